package repository

import (
	"context"
	"fmt"

	"github.com/fitroom/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreRepository handles database operations for merchant stores and their
// credit balances.
type StoreRepository struct {
	db *pgxpool.Pool
}

// NewStoreRepository creates a new StoreRepository.
func NewStoreRepository(db *pgxpool.Pool) *StoreRepository {
	return &StoreRepository{db: db}
}

// Upsert creates the store on first authenticated visit or refreshes the owner
// email on later ones. trialCredits is only applied on creation.
func (r *StoreRepository) Upsert(ctx context.Context, shop, ownerEmail string, trialCredits int) (*domain.Store, error) {
	query := `
		INSERT INTO stores (id, shop, owner_email, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (shop) DO UPDATE
		SET owner_email = EXCLUDED.owner_email, updated_at = NOW()
		RETURNING id, shop, owner_email, credits, created_at, updated_at
	`
	row := r.db.QueryRow(ctx, query, uuid.New().String(), shop, ownerEmail, trialCredits)
	return scanStore(row)
}

// FindByShop returns a store by shop domain, or (nil, nil) when absent.
func (r *StoreRepository) FindByShop(ctx context.Context, shop string) (*domain.Store, error) {
	query := `
		SELECT id, shop, owner_email, credits, created_at, updated_at
		FROM stores WHERE shop = $1
	`
	store, err := scanStore(r.db.QueryRow(ctx, query, shop))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return store, nil
}

// ReserveCredits debits cost from the store's balance as one conditional
// atomic update: the decrement only applies when the current balance covers
// the cost. Returns (nil, nil) when the balance is insufficient, so concurrent
// reservations can never drive the balance negative.
func (r *StoreRepository) ReserveCredits(ctx context.Context, shop string, cost int) (*domain.Store, error) {
	query := `
		UPDATE stores SET credits = credits - $2, updated_at = NOW()
		WHERE shop = $1 AND credits >= $2
		RETURNING id, shop, owner_email, credits, created_at, updated_at
	`
	store, err := scanStore(r.db.QueryRow(ctx, query, shop, cost))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return store, nil
}

// AddCredits increments the store's balance. Used for compensating refunds
// before a result row exists (e.g. input upload failure after reservation).
func (r *StoreRepository) AddCredits(ctx context.Context, shop string, amount int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE stores SET credits = credits + $2, updated_at = NOW() WHERE shop = $1`,
		shop, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	return nil
}

// DeleteByShop removes the store; subscriptions, sessions, and result rows
// cascade via foreign keys. Called on tenant uninstall only.
func (r *StoreRepository) DeleteByShop(ctx context.Context, shop string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stores WHERE shop = $1`, shop)
	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	return nil
}

func scanStore(row pgx.Row) (*domain.Store, error) {
	var s domain.Store
	err := row.Scan(&s.ID, &s.Shop, &s.OwnerEmail, &s.Credits, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	return &s, nil
}
