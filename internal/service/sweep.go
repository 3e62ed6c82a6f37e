package service

import (
	"context"
	"log"
	"time"

	"github.com/fitroom/backend/internal/repository"
)

const sweepBatchSize = 100

// SweepService periodically reconciles result rows left non-terminal by a
// crash or restart: anything older than the poll budget is failed and
// refunded. Every step it takes is idempotent, so overlapping with a live
// reconciler is safe.
type SweepService struct {
	tryonRepo  *repository.TryOnRepository
	interval   time.Duration
	staleAfter time.Duration
}

// NewSweepService creates a new SweepService. staleAfter should exceed the
// longest legitimate job duration.
func NewSweepService(tryonRepo *repository.TryOnRepository, interval, staleAfter time.Duration) *SweepService {
	return &SweepService{
		tryonRepo:  tryonRepo,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *SweepService) Start(ctx context.Context) {
	go func() {
		s.sweep(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(context.Background())
			}
		}
	}()
}

func (s *SweepService) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.tryonRepo.ListStaleNonTerminal(ctx, cutoff, sweepBatchSize)
	if err != nil {
		log.Printf("[Sweep] failed to list stale results: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	log.Printf("[Sweep] reconciling %d stale result(s)", len(stale))
	for _, res := range stale {
		transitioned, err := s.tryonRepo.MarkResultFailed(ctx, res.ID, "generation timed out")
		if err != nil {
			log.Printf("[Sweep] failed to fail result %s: %v", res.ID, err)
			continue
		}
		if !transitioned {
			continue
		}
		if _, err := s.tryonRepo.RefundResult(ctx, res.ID); err != nil {
			log.Printf("[Sweep] CRITICAL: refund for result %s failed: %v", res.ID, err)
		}
	}
}
