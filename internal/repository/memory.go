package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycart/checkout-service/internal/domain"
)

// In-memory implementations of the repository interfaces. Used by tests
// and by local runs without Postgres. Aggregates are deep-copied through
// JSON on the way in and out so callers never share mutable state with
// the store.

func copyCheckout(c *domain.Checkout) *domain.Checkout {
	b, _ := json.Marshal(c)
	var out domain.Checkout
	_ = json.Unmarshal(b, &out)
	return &out
}

func copyOrder(o *domain.Order) *domain.Order {
	b, _ := json.Marshal(o)
	var out domain.Order
	_ = json.Unmarshal(b, &out)
	return &out
}

type MemoryCheckoutRepo struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*domain.Checkout
	byKey map[string]uuid.UUID
}

func NewMemoryCheckoutRepo() *MemoryCheckoutRepo {
	return &MemoryCheckoutRepo{
		byID:  map[uuid.UUID]*domain.Checkout{},
		byKey: map[string]uuid.UUID{},
	}
}

func (r *MemoryCheckoutRepo) Save(_ context.Context, c *domain.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = copyCheckout(c)
	if c.IdempotencyKey != "" {
		r.byKey[c.IdempotencyKey] = c.ID
	}
	return nil
}

func (r *MemoryCheckoutRepo) Update(_ context.Context, c *domain.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[c.ID]
	if !ok {
		return domain.ErrCheckoutNotFound
	}
	if stored.Version != c.Version {
		return domain.ErrVersionConflict
	}
	c.Version++
	r.byID[c.ID] = copyCheckout(c)
	return nil
}

func (r *MemoryCheckoutRepo) Get(_ context.Context, id uuid.UUID) (*domain.Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copyCheckout(c), nil
}

func (r *MemoryCheckoutRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copyCheckout(c), nil
}

func (r *MemoryCheckoutRepo) List(_ context.Context, page, pageSize int) ([]*domain.Checkout, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Checkout, 0, len(r.byID))
	for _, c := range r.byID {
		all = append(all, copyCheckout(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type MemoryOrderRepo struct {
	mu           sync.RWMutex
	byID         map[uuid.UUID]*domain.Order
	byCheckoutID map[uuid.UUID]uuid.UUID
	byMerchant   map[string]uuid.UUID
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{
		byID:         map[uuid.UUID]*domain.Order{},
		byCheckoutID: map[uuid.UUID]uuid.UUID{},
		byMerchant:   map[string]uuid.UUID{},
	}
}

func merchantKey(merchantID, merchantOrderID string) string {
	return merchantID + ":" + merchantOrderID
}

func (r *MemoryOrderRepo) Save(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCheckoutID[o.CheckoutID]; exists {
		return ErrOrderAlreadyExists
	}
	r.byID[o.ID] = copyOrder(o)
	r.byCheckoutID[o.CheckoutID] = o.ID
	if o.MerchantOrderID != "" {
		r.byMerchant[merchantKey(o.MerchantID, o.MerchantOrderID)] = o.ID
	}
	return nil
}

func (r *MemoryOrderRepo) Update(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return domain.ErrVersionConflict
	}
	o.Version++
	r.byID[o.ID] = copyOrder(o)
	if o.MerchantOrderID != "" {
		r.byMerchant[merchantKey(o.MerchantID, o.MerchantOrderID)] = o.ID
	}
	return nil
}

func (r *MemoryOrderRepo) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r *MemoryOrderRepo) GetByCheckoutID(_ context.Context, checkoutID uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCheckoutID[checkoutID]
	if !ok {
		return nil, nil
	}
	return copyOrder(r.byID[id]), nil
}

func (r *MemoryOrderRepo) GetByMerchantOrderID(_ context.Context, merchantID, merchantOrderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMerchant[merchantKey(merchantID, merchantOrderID)]
	if !ok {
		return nil, nil
	}
	return copyOrder(r.byID[id]), nil
}

func (r *MemoryOrderRepo) List(_ context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*domain.Order
	for _, o := range r.byID {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.MerchantID != "" && o.MerchantID != f.MerchantID {
			continue
		}
		all = append(all, copyOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (f.Page - 1) * f.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type MemoryEventLog struct {
	mu      sync.Mutex
	records map[string]*domain.EventRecord
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{records: map[string]*domain.EventRecord{}}
}

func eventKey(merchantID, eventID string) string {
	return merchantID + ":" + eventID
}

func (l *MemoryEventLog) Insert(_ context.Context, rec *domain.EventRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := eventKey(rec.MerchantID, rec.EventID)
	if _, exists := l.records[key]; exists {
		return false, nil
	}
	cp := *rec
	l.records[key] = &cp
	return true, nil
}

func (l *MemoryEventLog) UpdateStatus(_ context.Context, merchantID, eventID string, status domain.EventStatus, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[eventKey(merchantID, eventID)]
	if !ok {
		return nil
	}
	rec.Status = status
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	if status == domain.EventProcessed {
		now := time.Now().UTC()
		rec.ProcessedAt = &now
	}
	return nil
}

func (l *MemoryEventLog) Get(_ context.Context, merchantID, eventID string) (*domain.EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[eventKey(merchantID, eventID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}
