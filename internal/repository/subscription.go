package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fitroom/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository handles database operations for app subscriptions and
// the credit accrual that hangs off them.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert records the subscription state reported by a billing check or webhook.
// When the quota differs from the previously recorded one, the store balance is
// adjusted by the delta in the same transaction, so mid-cycle plan changes take
// effect immediately without touching last_credited_at. Downgrades are clamped
// at zero to keep the balance non-negative.
func (r *SubscriptionRepository) Upsert(ctx context.Context, shop string, in domain.SubscriptionUpsert) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var storeID *string
	var prevQuota int
	err = tx.QueryRow(ctx, `SELECT id FROM stores WHERE shop = $1`, shop).Scan(&storeID)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to look up store: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT quota FROM subscriptions WHERE subscription_id = $1 FOR UPDATE`,
		in.SubscriptionID,
	).Scan(&prevQuota)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to look up existing subscription: %w", err)
	}
	existed := err == nil

	query := `
		INSERT INTO subscriptions (id, shop, subscription_id, plan_key, quota, credits, status, interval, last_credited_at, store_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, NOW(), $8, NOW(), NOW())
		ON CONFLICT (subscription_id) DO UPDATE
		SET shop = EXCLUDED.shop, plan_key = EXCLUDED.plan_key, quota = EXCLUDED.quota,
		    status = EXCLUDED.status, interval = EXCLUDED.interval, store_id = EXCLUDED.store_id,
		    updated_at = NOW()
		RETURNING id, shop, subscription_id, plan_key, quota, credits, status, interval, last_credited_at, store_id, created_at, updated_at
	`
	sub, err := scanSubscription(tx.QueryRow(ctx, query,
		uuid.New().String(), shop, in.SubscriptionID, in.PlanKey, in.Quota, in.Status, in.Interval, storeID,
	))
	if err != nil {
		return nil, err
	}

	// Mid-cycle plan change: settle the quota delta against the store balance
	// now. On first sight of a subscription the full quota is the delta.
	if in.Quota > 0 {
		delta := in.Quota
		if existed {
			delta = in.Quota - prevQuota
		}
		if delta != 0 {
			_, err = tx.Exec(ctx,
				`UPDATE stores SET credits = GREATEST(credits + $2, 0), updated_at = NOW() WHERE shop = $1`,
				shop, delta,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to apply quota delta: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit upsert transaction: %w", err)
	}
	return sub, nil
}

// FindBySubscriptionID returns a subscription by its external id, or (nil, nil).
func (r *SubscriptionRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	query := `
		SELECT id, shop, subscription_id, plan_key, quota, credits, status, interval, last_credited_at, store_id, created_at, updated_at
		FROM subscriptions WHERE subscription_id = $1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// FindActiveByShop returns the most recent ACTIVE subscription for a shop, or
// (nil, nil) when there is none.
func (r *SubscriptionRepository) FindActiveByShop(ctx context.Context, shop string) (*domain.Subscription, error) {
	query := `
		SELECT id, shop, subscription_id, plan_key, quota, credits, status, interval, last_credited_at, store_id, created_at, updated_at
		FROM subscriptions WHERE shop = $1 AND status = 'ACTIVE' ORDER BY created_at DESC LIMIT 1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, shop))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// MaybeAccrue grants the plan's quota once per rolling cycle. The subscription
// row is locked for the duration, the due check and both increments commit as
// one unit, and last_credited_at only moves forward. Calling it again inside
// the same cycle window is a no-op.
func (r *SubscriptionRepository) MaybeAccrue(ctx context.Context, subscriptionID string, now time.Time) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin accrual transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, shop, subscription_id, plan_key, quota, credits, status, interval, last_credited_at, store_id, created_at, updated_at
		FROM subscriptions WHERE subscription_id = $1 FOR UPDATE
	`
	sub, err := scanSubscription(tx.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if !domain.AccrualDue(sub.LastCreditedAt, sub.Interval, now) {
		return sub, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE subscriptions SET credits = credits + quota, last_credited_at = $2, updated_at = NOW() WHERE subscription_id = $1`,
		subscriptionID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to credit subscription: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE stores SET credits = credits + $2, updated_at = NOW() WHERE shop = $1`,
		sub.Shop, sub.Quota,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to credit store: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accrual transaction: %w", err)
	}

	sub.Credits += sub.Quota
	t := now
	sub.LastCreditedAt = &t
	return sub, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	var storeID *string
	err := row.Scan(
		&s.ID, &s.Shop, &s.SubscriptionID, &s.PlanKey, &s.Quota, &s.Credits,
		&s.Status, &s.Interval, &s.LastCreditedAt, &storeID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	if storeID != nil {
		s.StoreID = *storeID
	}
	return &s, nil
}
