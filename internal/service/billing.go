package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/repository"
	"github.com/fitroom/backend/pkg/billingapi"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// usageLineItemCacheTTL bounds how long a billing check result is reused
// before the admin API is consulted again.
const usageLineItemCacheTTL = 5 * time.Minute

// BillingAPI is the slice of the admin API client used by the billing service.
type BillingAPI interface {
	Check(ctx context.Context, shop, accessToken string) ([]billingapi.Subscription, error)
	CreateUsageCharge(ctx context.Context, shop, accessToken string, charge billingapi.UsageCharge) error
}

// BillingService owns subscription state, cycle credit accrual, and the
// usage-billing fallback for stores that have run out of credits.
type BillingService struct {
	subRepo      *repository.SubscriptionRepository
	storeRepo    *repository.StoreRepository
	sessionRepo  *repository.PlatformSessionRepository
	billing      BillingAPI
	rdb          *redis.Client // optional; nil disables the billing-check cache
	trialCredits int
}

// NewBillingService creates a new BillingService. rdb may be nil.
func NewBillingService(
	subRepo *repository.SubscriptionRepository,
	storeRepo *repository.StoreRepository,
	sessionRepo *repository.PlatformSessionRepository,
	billing BillingAPI,
	rdb *redis.Client,
	trialCredits int,
) *BillingService {
	return &BillingService{
		subRepo:      subRepo,
		storeRepo:    storeRepo,
		sessionRepo:  sessionRepo,
		billing:      billing,
		rdb:          rdb,
		trialCredits: trialCredits,
	}
}

// EnsureStore registers the store on first contact, granting trial credits
// exactly once, and refreshes the owner email on later visits.
func (s *BillingService) EnsureStore(ctx context.Context, shop, ownerEmail string) (*domain.Store, error) {
	store, err := s.storeRepo.Upsert(ctx, shop, ownerEmail, s.trialCredits)
	if err != nil {
		return nil, domain.ErrInternal("failed to register store", err)
	}
	return store, nil
}

// UpsertSubscription records subscription state from a webhook or billing
// check. Quota changes settle against the store balance immediately; an
// ACTIVE subscription is additionally given the chance to accrue its cycle
// credits.
func (s *BillingService) UpsertSubscription(ctx context.Context, shop string, in domain.SubscriptionUpsert) (*domain.Subscription, error) {
	if in.SubscriptionID == "" {
		return nil, domain.ErrBadRequest("subscription id is required")
	}
	if in.Interval == "" {
		in.Interval = domain.IntervalEvery30Days
	}

	sub, err := s.subRepo.Upsert(ctx, shop, in)
	if err != nil {
		return nil, domain.ErrInternal("failed to upsert subscription", err)
	}

	if sub.Status == domain.SubscriptionActive {
		accrued, err := s.subRepo.MaybeAccrue(ctx, sub.SubscriptionID, time.Now())
		if err != nil {
			return nil, domain.ErrInternal("failed to accrue cycle credits", err)
		}
		if accrued != nil {
			sub = accrued
		}
	}
	return sub, nil
}

// CurrentSubscription returns the shop's active subscription, accruing cycle
// credits first when a full cycle has elapsed since the last grant. Safe to
// call on every dashboard load; off-cycle calls are no-ops.
func (s *BillingService) CurrentSubscription(ctx context.Context, shop string) (*domain.Subscription, error) {
	sub, err := s.subRepo.FindActiveByShop(ctx, shop)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil {
		return nil, nil
	}

	accrued, err := s.subRepo.MaybeAccrue(ctx, sub.SubscriptionID, time.Now())
	if err != nil {
		return nil, domain.ErrInternal("failed to accrue cycle credits", err)
	}
	if accrued != nil {
		sub = accrued
	}
	return sub, nil
}

// AuthorizeUsage checks whether the shop can fall back to usage-based
// billing for one job. Returns nil when no ACTIVE subscription carries a
// usage-priced line item. The resolved line item id is cached briefly so a
// burst of jobs does not hammer the admin API.
func (s *BillingService) AuthorizeUsage(ctx context.Context, shop string) (*domain.UsageAuthorization, error) {
	session, err := s.sessionRepo.FindByShop(ctx, shop)
	if err != nil {
		return nil, domain.ErrInternal("failed to load platform session", err)
	}
	if session == nil {
		return nil, nil
	}

	cacheKey := "usage-line-item:" + shop
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			if subID, lineItemID, ok := strings.Cut(cached, "|"); ok && subID != "" && lineItemID != "" {
				return &domain.UsageAuthorization{
					SubscriptionID: subID,
					LineItemID:     lineItemID,
					AccessToken:    session.AccessToken,
				}, nil
			}
		}
	}

	subs, err := s.billing.Check(ctx, shop, session.AccessToken)
	if err != nil {
		return nil, domain.ErrInternal("billing check failed", err)
	}

	for i := range subs {
		if subs[i].Status != domain.SubscriptionActive {
			continue
		}
		li := subs[i].UsageLineItem()
		if li == nil {
			continue
		}
		if s.rdb != nil {
			if err := s.rdb.Set(ctx, cacheKey, subs[i].ID+"|"+li.ID, usageLineItemCacheTTL).Err(); err != nil {
				log.Printf("[Billing] failed to cache usage line item for %s: %v", shop, err)
			}
		}
		return &domain.UsageAuthorization{
			SubscriptionID: subs[i].ID,
			LineItemID:     li.ID,
			AccessToken:    session.AccessToken,
		}, nil
	}
	return nil, nil
}

// ChargeUsage records one overage charge for a completed job. The idempotency
// key is derived from the shop and session id, so resubmitting the same
// terminal event can never double-bill.
func (s *BillingService) ChargeUsage(ctx context.Context, shop, sessionID string, auth *domain.UsageAuthorization) error {
	key := UsageIdempotencyKey(shop, sessionID)
	charge := billingapi.UsageCharge{
		LineItemID:     auth.LineItemID,
		Description:    billingapi.OverageTryOnTerms,
		Amount:         billingapi.OverageTryOnAmount,
		CurrencyCode:   billingapi.OverageTryOnCurrency,
		IdempotencyKey: key,
	}
	if err := s.billing.CreateUsageCharge(ctx, shop, auth.AccessToken, charge); err != nil {
		return fmt.Errorf("failed to create usage charge for %s: %w", shop, err)
	}
	return nil
}

// SavePlatformSession persists the shop's offline access token.
func (s *BillingService) SavePlatformSession(ctx context.Context, shop, accessToken string) error {
	if err := s.sessionRepo.Upsert(ctx, shop, accessToken); err != nil {
		return domain.ErrInternal("failed to save platform session", err)
	}
	return nil
}

// RemoveTenant deletes all state for a shop. Subscriptions, sessions, and
// result rows cascade from the store row; the platform session is removed
// explicitly because it is keyed by shop, not store id.
func (s *BillingService) RemoveTenant(ctx context.Context, shop string) error {
	if err := s.storeRepo.DeleteByShop(ctx, shop); err != nil {
		return domain.ErrInternal("failed to delete store", err)
	}
	if err := s.sessionRepo.DeleteByShop(ctx, shop); err != nil {
		return domain.ErrInternal("failed to delete platform session", err)
	}
	log.Printf("[Billing] removed tenant %s", shop)
	return nil
}

// UsageIdempotencyKey derives a stable UUID for one job's overage charge.
// The same shop and session always map to the same key.
func UsageIdempotencyKey(shop, sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("usage-charge/"+shop+"/"+sessionID)).String()
}
