package repository

import (
	"context"
	"sync"
)

// Offer is the minimal projection the orchestrator needs: which merchant
// fulfills an offer. Catalog generation itself lives outside this service.
type Offer struct {
	ID         string
	MerchantID string
}

type OfferRepo interface {
	Get(ctx context.Context, offerID string) (*Offer, error)
}

type MemoryOfferRepo struct {
	mu     sync.RWMutex
	offers map[string]Offer
}

func NewMemoryOfferRepo() *MemoryOfferRepo {
	return &MemoryOfferRepo{offers: map[string]Offer{}}
}

func (r *MemoryOfferRepo) Put(offer Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers[offer.ID] = offer
}

func (r *MemoryOfferRepo) Get(_ context.Context, offerID string) (*Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.offers[offerID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}
