package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycart/checkout-service/internal/domain"
)

// CheckoutRepo persists checkout aggregates. Get returns (nil, nil) when
// the checkout does not exist. Update performs an optimistic
// compare-and-swap on Version and returns domain.ErrVersionConflict when
// the stored row moved underneath the caller.
type CheckoutRepo interface {
	Save(ctx context.Context, c *domain.Checkout) error
	Update(ctx context.Context, c *domain.Checkout) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Checkout, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Checkout, error)
	List(ctx context.Context, page, pageSize int) ([]*domain.Checkout, int, error)
}

type CheckoutRepository struct {
	pool *pgxpool.Pool
}

func NewCheckoutRepository(pool *pgxpool.Pool) *CheckoutRepository {
	return &CheckoutRepository{pool: pool}
}

func (r *CheckoutRepository) Save(ctx context.Context, c *domain.Checkout) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var key *string
	if c.IdempotencyKey != "" {
		key = &c.IdempotencyKey
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO checkouts (id, merchant_id, offer_id, status, idempotency_key, total_cents, expires_at, created_at, updated_at, version, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.MerchantID, c.OfferID, c.Status, key, c.TotalCents, c.ExpiresAt, c.CreatedAt, c.UpdatedAt, c.Version, payload)
	return err
}

func (r *CheckoutRepository) Update(ctx context.Context, c *domain.Checkout) error {
	loaded := c.Version
	c.Version++
	payload, err := json.Marshal(c)
	if err != nil {
		c.Version = loaded
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE checkouts
		SET status = $2, total_cents = $3, updated_at = $4, version = $5, payload = $6
		WHERE id = $1 AND version = $7
	`, c.ID, c.Status, c.TotalCents, c.UpdatedAt, c.Version, payload, loaded)
	if err != nil {
		c.Version = loaded
		return err
	}
	if tag.RowsAffected() == 0 {
		c.Version = loaded
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *CheckoutRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT payload FROM checkouts WHERE id = $1`, id))
}

func (r *CheckoutRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Checkout, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT payload FROM checkouts WHERE idempotency_key = $1`, key))
}

func (r *CheckoutRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Checkout, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM checkouts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM checkouts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Checkout
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		var c domain.Checkout
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, 0, err
		}
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

func (r *CheckoutRepository) scanOne(row pgx.Row) (*domain.Checkout, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var c domain.Checkout
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
