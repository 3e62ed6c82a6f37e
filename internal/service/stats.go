package service

import (
	"context"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreStats is the dashboard snapshot for one shop: wallet balance, plan
// state, and generation counters.
type StoreStats struct {
	Store        *domain.Store        `json:"store"`
	Subscription *domain.Subscription `json:"subscription"`
	Sessions     int                  `json:"sessions"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	Pending      int                  `json:"pending"`
	Refunded     int                  `json:"refunded"`
}

// StatsService assembles usage statistics for the merchant dashboard.
type StatsService struct {
	db        *pgxpool.Pool
	storeRepo *repository.StoreRepository
	subRepo   *repository.SubscriptionRepository
}

// NewStatsService creates a new StatsService.
func NewStatsService(db *pgxpool.Pool, storeRepo *repository.StoreRepository, subRepo *repository.SubscriptionRepository) *StatsService {
	return &StatsService{db: db, storeRepo: storeRepo, subRepo: subRepo}
}

// GetStats returns the stats snapshot for a shop.
func (s *StatsService) GetStats(ctx context.Context, shop string) (*StoreStats, error) {
	store, err := s.storeRepo.FindByShop(ctx, shop)
	if err != nil {
		return nil, domain.ErrInternal("failed to load store", err)
	}
	if store == nil {
		return nil, domain.ErrNotFound("store is not registered")
	}

	sub, err := s.subRepo.FindActiveByShop(ctx, shop)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}

	stats := &StoreStats{Store: store, Subscription: sub}

	query := `
		SELECT
			COUNT(DISTINCT session_id),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status NOT IN ('SUCCESS', 'FAILED')),
			COUNT(*) FILTER (WHERE refunded)
		FROM tryon_results WHERE store_id = $1
	`
	err = s.db.QueryRow(ctx, query, store.ID).Scan(
		&stats.Sessions, &stats.Succeeded, &stats.Failed, &stats.Pending, &stats.Refunded,
	)
	if err != nil {
		return nil, domain.ErrInternal("failed to aggregate usage", err)
	}
	return stats, nil
}
