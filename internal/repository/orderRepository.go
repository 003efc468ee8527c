package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycart/checkout-service/internal/domain"
)

// ErrOrderAlreadyExists is returned by Save when an order already exists
// for the same checkout. The unique constraint on checkout_id is what
// enforces "at most one order per checkout".
var ErrOrderAlreadyExists = errors.New("order already exists for checkout")

type OrderFilter struct {
	Status     domain.OrderStatus
	MerchantID string
	Page       int
	PageSize   int
}

// OrderRepo persists order aggregates. Lookups return (nil, nil) when
// nothing matches.
type OrderRepo interface {
	Save(ctx context.Context, o *domain.Order) error
	Update(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByCheckoutID(ctx context.Context, checkoutID uuid.UUID) (*domain.Order, error)
	GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) (*domain.Order, error)
	List(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error)
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO orders (id, checkout_id, merchant_id, merchant_order_id, status, total_cents, created_at, updated_at, version, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.CheckoutID, o.MerchantID, o.MerchantOrderID, o.Status, o.TotalCents, o.CreatedAt, o.UpdatedAt, o.Version, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation on checkout_id
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOrderAlreadyExists
		}
		return err
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	loaded := o.Version
	o.Version++
	payload, err := json.Marshal(o)
	if err != nil {
		o.Version = loaded
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, merchant_order_id = $3, updated_at = $4, version = $5, payload = $6
		WHERE id = $1 AND version = $7
	`, o.ID, o.Status, o.MerchantOrderID, o.UpdatedAt, o.Version, payload, loaded)
	if err != nil {
		o.Version = loaded
		return err
	}
	if tag.RowsAffected() == 0 {
		o.Version = loaded
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT payload FROM orders WHERE id = $1`, id))
}

func (r *OrderRepository) GetByCheckoutID(ctx context.Context, checkoutID uuid.UUID) (*domain.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT payload FROM orders WHERE checkout_id = $1`, checkoutID))
}

func (r *OrderRepository) GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) (*domain.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT payload FROM orders WHERE merchant_id = $1 AND merchant_order_id = $2`,
		merchantID, merchantOrderID))
}

func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}

	where := ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR merchant_id = $2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where,
		string(f.Status), f.MerchantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT payload FROM orders`+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		string(f.Status), f.MerchantID, f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, 0, err
		}
		out = append(out, &o)
	}
	return out, total, rows.Err()
}

func (r *OrderRepository) scanOne(row pgx.Row) (*domain.Order, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
