package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/pkg/tryonvendor"
	"github.com/go-playground/validator/v10"
)

// VendorClient is the slice of the generation vendor used by the try-on
// service.
type VendorClient interface {
	UploadImage(ctx context.Context, data []byte, format string) (string, error)
	Submit(ctx context.Context, modelKey, dressKey, category string) (string, error)
	Poll(ctx context.Context, taskID string) ([]tryonvendor.Result, error)
}

// AssetStore persists images durably and fetches remote ones.
type AssetStore interface {
	Put(ctx context.Context, data []byte, contentType, keyPrefix string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// StoreAccess is the slice of the store repository the job lifecycle needs.
type StoreAccess interface {
	FindByShop(ctx context.Context, shop string) (*domain.Store, error)
	ReserveCredits(ctx context.Context, shop string, cost int) (*domain.Store, error)
	AddCredits(ctx context.Context, shop string, amount int) error
}

// ResultLedger is the slice of the try-on repository the job lifecycle needs.
type ResultLedger interface {
	CreateSession(ctx context.Context, s *domain.TryOnSession) error
	FindSessionByID(ctx context.Context, id string) (*domain.TryOnSession, error)
	CreateResult(ctx context.Context, res *domain.TryOnResult) error
	MarkResultRunning(ctx context.Context, id, taskID string) error
	MarkResultSuccess(ctx context.Context, id, resultID, fileURL string) (bool, error)
	MarkResultFailed(ctx context.Context, id, errorMsg string) (bool, error)
	RefundResult(ctx context.Context, id string) (bool, error)
	ListResultsBySession(ctx context.Context, sessionID string) ([]*domain.TryOnResult, error)
	FindLatestSuccess(ctx context.Context, sessionID string) (*domain.TryOnResult, error)
}

// UsagePayments is the usage-billing fallback as seen from the job lifecycle.
type UsagePayments interface {
	AuthorizeUsage(ctx context.Context, shop string) (*domain.UsageAuthorization, error)
	ChargeUsage(ctx context.Context, shop, sessionID string, auth *domain.UsageAuthorization) error
}

// TryOnService runs the try-on job lifecycle: credit reservation, vendor
// submission, background reconciliation, and refunds.
type TryOnService struct {
	stores   StoreAccess
	results  ResultLedger
	payments UsagePayments
	vendor   VendorClient
	assets   AssetStore
	validate *validator.Validate

	creditCost      int
	pollInterval    time.Duration
	maxPollAttempts int
}

// NewTryOnService creates a new TryOnService.
func NewTryOnService(
	stores StoreAccess,
	results ResultLedger,
	payments UsagePayments,
	vendor VendorClient,
	assets AssetStore,
	creditCost int,
	pollInterval time.Duration,
	maxPollAttempts int,
) *TryOnService {
	return &TryOnService{
		stores:          stores,
		results:         results,
		payments:        payments,
		vendor:          vendor,
		assets:          assets,
		validate:        validator.New(),
		creditCost:      creditCost,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
	}
}

// CreateSession validates the request, reserves payment, persists the session
// and its pending result row, and dispatches the vendor job in the
// background. The caller gets the session back immediately; generation
// progress is observed through Confirm.
func (s *TryOnService) CreateSession(ctx context.Context, shop string, req domain.CreateSessionRequest) (*domain.TryOnSession, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation("category must be one of top, bottom, full")
	}
	if !req.ModelImage.Present() || !req.DressImage.Present() {
		return nil, domain.ErrBadRequest("modelImage, dressImage and category are all required")
	}

	store, err := s.stores.FindByShop(ctx, shop)
	if err != nil {
		return nil, domain.ErrInternal("failed to load store", err)
	}
	if store == nil {
		return nil, domain.ErrNotFound("store is not registered")
	}

	// Payment: reserve credits, or fall back to usage billing when the
	// balance cannot cover the job. Exactly one of the two paths applies.
	cost := s.creditCost
	var usageAuth *domain.UsageAuthorization
	reserved, err := s.stores.ReserveCredits(ctx, shop, cost)
	if err != nil {
		return nil, domain.ErrInternal("failed to reserve credits", err)
	}
	if reserved == nil {
		usageAuth, err = s.payments.AuthorizeUsage(ctx, shop)
		if err != nil {
			return nil, err
		}
		if usageAuth == nil {
			return nil, domain.ErrInsufficientCredits()
		}
		cost = 0
	}

	// Everything after the reservation compensates on failure.
	session, err := s.dispatchJob(ctx, store, shop, req, cost, usageAuth)
	if err != nil {
		if cost > 0 {
			if refundErr := s.stores.AddCredits(ctx, shop, cost); refundErr != nil {
				log.Printf("[TryOn] CRITICAL: failed to return %d credits to %s: %v", cost, shop, refundErr)
			}
		}
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to create try-on session", err)
	}
	return session, nil
}

// dispatchJob normalizes the inputs, persists the session and its pending
// result row, and hands the job to the background reconciler.
func (s *TryOnService) dispatchJob(ctx context.Context, store *domain.Store, shop string, req domain.CreateSessionRequest, cost int, usageAuth *domain.UsageAuthorization) (*domain.TryOnSession, error) {
	modelData, modelURL, err := s.normalizeInput(ctx, req.ModelImage)
	if err != nil {
		return nil, err
	}
	dressData, dressURL, err := s.normalizeInput(ctx, req.DressImage)
	if err != nil {
		return nil, err
	}

	session := &domain.TryOnSession{
		StoreID:  store.ID,
		Category: req.Category,
		ModelURL: modelURL,
		DressURL: dressURL,
		Variants: 1,
	}
	if err := s.results.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	result := &domain.TryOnResult{
		StoreID:   store.ID,
		SessionID: session.ID,
		Status:    domain.ResultCreated,
		Cost:      cost,
	}
	if err := s.results.CreateResult(ctx, result); err != nil {
		return nil, err
	}

	go s.processSession(shop, session, result, modelData, dressData, usageAuth)
	return session, nil
}

// normalizeInput turns an image input into raw bytes plus a durable URL.
// Uploaded bytes are copied to the object store; remote URLs are fetched.
func (s *TryOnService) normalizeInput(ctx context.Context, in domain.ImageInput) ([]byte, string, error) {
	if len(in.Data) > 0 {
		contentType := mime.TypeByExtension(filepath.Ext(in.Filename))
		if contentType == "" {
			contentType = "image/jpeg"
		}
		url, err := s.assets.Put(ctx, in.Data, contentType, "inputs")
		if err != nil {
			return nil, "", fmt.Errorf("failed to store input image: %w", err)
		}
		return in.Data, url, nil
	}

	data, _, err := s.assets.Fetch(ctx, in.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch input image: %w", err)
	}
	return data, in.URL, nil
}

// processSession drives one job to a terminal state. It runs detached from
// the submitting request with its own deadline sized to the poll budget; a
// crash mid-flight leaves a non-terminal row for the sweep to reconcile.
func (s *TryOnService) processSession(shop string, session *domain.TryOnSession, result *domain.TryOnResult, modelData, dressData []byte, usageAuth *domain.UsageAuthorization) {
	budget := s.pollInterval*time.Duration(s.maxPollAttempts) + 5*time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	vendorResult, err := s.runVendorJob(ctx, session, result, modelData, dressData)
	if err != nil {
		s.failAndRefund(ctx, result.ID, err)
		return
	}

	data, contentType, err := s.assets.Fetch(ctx, vendorResult.FileURL)
	if err != nil {
		s.failAndRefund(ctx, result.ID, &domain.VendorError{Op: "download asset", Err: err})
		return
	}
	fileURL, err := s.assets.Put(ctx, data, contentType, "results/"+session.ID)
	if err != nil {
		s.failAndRefund(ctx, result.ID, fmt.Errorf("failed to store generated asset: %w", err))
		return
	}

	won, err := s.results.MarkResultSuccess(ctx, result.ID, vendorResult.ResultID, fileURL)
	if err != nil {
		log.Printf("[TryOn] failed to finalize result %s: %v", result.ID, err)
		return
	}
	if !won {
		// Another reconciliation path got there first.
		return
	}

	log.Printf("[TryOn] session %s finished: %s", session.ID, fileURL)

	if usageAuth != nil {
		if err := s.payments.ChargeUsage(ctx, shop, session.ID, usageAuth); err != nil {
			log.Printf("[TryOn] usage charge for session %s failed: %v", session.ID, err)
		}
	}
}

// runVendorJob uploads the inputs, starts the task, and polls until a
// terminal vendor status or the poll budget runs out.
func (s *TryOnService) runVendorJob(ctx context.Context, session *domain.TryOnSession, result *domain.TryOnResult, modelData, dressData []byte) (*tryonvendor.Result, error) {
	modelKey, err := s.vendor.UploadImage(ctx, modelData, formatFromURL(session.ModelURL))
	if err != nil {
		return nil, err
	}
	dressKey, err := s.vendor.UploadImage(ctx, dressData, formatFromURL(session.DressURL))
	if err != nil {
		return nil, err
	}

	taskID, err := s.vendor.Submit(ctx, modelKey, dressKey, session.Category)
	if err != nil {
		return nil, err
	}
	if err := s.results.MarkResultRunning(ctx, result.ID, taskID); err != nil {
		log.Printf("[TryOn] failed to mark result %s running: %v", result.ID, err)
	}

	var winner *tryonvendor.Result
	poll := func() error {
		// Poll errors (network blips, empty or malformed payloads) stay
		// retryable until the budget runs out.
		list, err := s.vendor.Poll(ctx, taskID)
		if err != nil {
			return err
		}

		success, failure, done := pollOutcome(list)
		if !done {
			return fmt.Errorf("task %s still pending", taskID)
		}
		if success == nil {
			return backoff.Permanent(&domain.VendorError{Op: "generate", Err: errors.New(failure)})
		}
		winner = success
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.pollInterval), uint64(s.maxPollAttempts)),
		ctx,
	)
	if err := backoff.Retry(poll, policy); err != nil {
		var vendorErr *domain.VendorError
		if errors.As(err, &vendorErr) {
			return nil, err
		}
		return nil, domain.ErrGenerationTimedOut
	}
	return winner, nil
}

// failAndRefund finalizes a failed job and returns its credits. Both steps
// are idempotent, so racing with the sweep is harmless.
func (s *TryOnService) failAndRefund(ctx context.Context, resultID string, cause error) {
	log.Printf("[TryOn] result %s failed: %v", resultID, cause)

	transitioned, err := s.results.MarkResultFailed(ctx, resultID, cause.Error())
	if err != nil {
		log.Printf("[TryOn] failed to mark result %s failed: %v", resultID, err)
		return
	}
	if !transitioned {
		return
	}

	refunded, err := s.results.RefundResult(ctx, resultID)
	if err != nil {
		log.Printf("[TryOn] CRITICAL: refund for result %s failed: %v", resultID, err)
		return
	}
	if refunded {
		log.Printf("[TryOn] refunded credits for result %s", resultID)
	}
}

// Confirm aggregates a session's result rows into one client-facing status:
// any SUCCESS wins, all FAILED reports FAILED, anything else stays PENDING.
func (s *TryOnService) Confirm(ctx context.Context, sessionID string) (*domain.SessionStatus, error) {
	session, err := s.results.FindSessionByID(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load session", err)
	}
	if session == nil {
		return nil, domain.ErrNotFound("session not found")
	}

	results, err := s.results.ListResultsBySession(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load results", err)
	}

	return &domain.SessionStatus{
		Status:  domain.AggregateStatus(results),
		Results: results,
	}, nil
}

// Result returns the newest successful output of a session.
func (s *TryOnService) Result(ctx context.Context, sessionID string) (*domain.TryOnResult, error) {
	res, err := s.results.FindLatestSuccess(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load result", err)
	}
	if res == nil {
		return nil, domain.ErrNotFound("no successful result for session")
	}
	return res, nil
}

// pollOutcome folds one poll response into a terminal decision: the first
// SUCCESS entry wins; all entries FAILED ends the job; anything else keeps
// polling.
func pollOutcome(list []tryonvendor.Result) (success *tryonvendor.Result, failure string, done bool) {
	failures := 0
	for i := range list {
		switch list[i].Status {
		case domain.ResultSuccess:
			return &list[i], "", true
		case domain.ResultFailed:
			failures++
		}
	}
	if len(list) > 0 && failures == len(list) {
		msg := list[0].ErrorMsg
		if msg == "" {
			msg = "generation failed"
		}
		return nil, msg, true
	}
	return nil, "", false
}

func formatFromURL(url string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(url)), ".")
	switch ext {
	case "png", "jpg", "jpeg", "webp":
		return ext
	default:
		return "png"
	}
}
