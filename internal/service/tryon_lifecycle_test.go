package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/pkg/tryonvendor"
)

const testShop = "demo.example-shop.com"

type stubStores struct {
	mu    sync.Mutex
	store domain.Store
}

func (s *stubStores) FindByShop(ctx context.Context, shop string) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.store
	return &cp, nil
}

func (s *stubStores) ReserveCredits(ctx context.Context, shop string, cost int) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store.Credits < cost {
		return nil, nil
	}
	s.store.Credits -= cost
	cp := s.store
	return &cp, nil
}

func (s *stubStores) AddCredits(ctx context.Context, shop string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Credits += amount
	return nil
}

func (s *stubStores) credits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Credits
}

// stubLedger keeps session and result rows in memory and reports each
// lifecycle transition on the events channel so tests can wait for the
// detached reconciler deterministically.
type stubLedger struct {
	mu       sync.Mutex
	stores   *stubStores
	sessions map[string]*domain.TryOnSession
	results  map[string]*domain.TryOnResult
	events   chan string
	seq      int
}

func newStubLedger(stores *stubStores, events chan string) *stubLedger {
	return &stubLedger{
		stores:   stores,
		sessions: make(map[string]*domain.TryOnSession),
		results:  make(map[string]*domain.TryOnResult),
		events:   events,
	}
}

func (l *stubLedger) CreateSession(ctx context.Context, s *domain.TryOnSession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	s.ID = fmt.Sprintf("sess-%d", l.seq)
	cp := *s
	l.sessions[s.ID] = &cp
	return nil
}

func (l *stubLedger) FindSessionByID(ctx context.Context, id string) (*domain.TryOnSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (l *stubLedger) CreateResult(ctx context.Context, res *domain.TryOnResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	res.ID = fmt.Sprintf("res-%d", l.seq)
	cp := *res
	l.results[res.ID] = &cp
	return nil
}

func (l *stubLedger) MarkResultRunning(ctx context.Context, id, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.results[id]
	if domain.TerminalResultStatus(r.Status) {
		return nil
	}
	r.TaskID = taskID
	r.Status = domain.ResultRunning
	l.events <- "running"
	return nil
}

func (l *stubLedger) MarkResultSuccess(ctx context.Context, id, resultID, fileURL string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.results[id]
	if domain.TerminalResultStatus(r.Status) || r.FileURL != nil {
		return false, nil
	}
	r.Status = domain.ResultSuccess
	r.ResultID = resultID
	r.FileURL = &fileURL
	l.events <- "success"
	return true, nil
}

func (l *stubLedger) MarkResultFailed(ctx context.Context, id, errorMsg string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.results[id]
	if domain.TerminalResultStatus(r.Status) {
		return false, nil
	}
	r.Status = domain.ResultFailed
	r.ErrorMsg = &errorMsg
	l.events <- "failed"
	return true, nil
}

func (l *stubLedger) RefundResult(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	r := l.results[id]
	if r.Refunded || r.Cost == 0 {
		l.mu.Unlock()
		l.events <- "refund-noop"
		return false, nil
	}
	r.Refunded = true
	cost := r.Cost
	l.mu.Unlock()

	if err := l.stores.AddCredits(ctx, testShop, cost); err != nil {
		return false, err
	}
	l.events <- "refunded"
	return true, nil
}

func (l *stubLedger) ListResultsBySession(ctx context.Context, sessionID string) ([]*domain.TryOnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []*domain.TryOnResult{}
	for _, r := range l.results {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *stubLedger) FindLatestSuccess(ctx context.Context, sessionID string) (*domain.TryOnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.results {
		if r.SessionID == sessionID && r.Status == domain.ResultSuccess {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *stubLedger) result(t *testing.T, sessionID string) *domain.TryOnResult {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.results {
		if r.SessionID == sessionID {
			cp := *r
			return &cp
		}
	}
	t.Fatalf("no result row for session %s", sessionID)
	return nil
}

type stubVendor struct {
	mu      sync.Mutex
	polls   [][]tryonvendor.Result // consumed in order; the last entry repeats
	uploads int
}

func (v *stubVendor) UploadImage(ctx context.Context, data []byte, format string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uploads++
	return fmt.Sprintf("key-%d", v.uploads), nil
}

func (v *stubVendor) Submit(ctx context.Context, modelKey, dressKey, category string) (string, error) {
	return "task-1", nil
}

func (v *stubVendor) Poll(ctx context.Context, taskID string) ([]tryonvendor.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.polls[0]
	if len(v.polls) > 1 {
		v.polls = v.polls[1:]
	}
	return next, nil
}

type stubAssets struct {
	mu      sync.Mutex
	fetched []string
}

func (a *stubAssets) Put(ctx context.Context, data []byte, contentType, keyPrefix string) (string, error) {
	return "https://cdn.test/" + keyPrefix + "/out.png", nil
}

func (a *stubAssets) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetched = append(a.fetched, url)
	return []byte("image-bytes"), "image/png", nil
}

func (a *stubAssets) fetchedURLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.fetched...)
}

type stubPayments struct {
	mu      sync.Mutex
	auth    *domain.UsageAuthorization
	charged []string
	events  chan string
}

func (p *stubPayments) AuthorizeUsage(ctx context.Context, shop string) (*domain.UsageAuthorization, error) {
	return p.auth, nil
}

func (p *stubPayments) ChargeUsage(ctx context.Context, shop, sessionID string, auth *domain.UsageAuthorization) error {
	p.mu.Lock()
	p.charged = append(p.charged, sessionID)
	p.mu.Unlock()
	p.events <- "charged"
	return nil
}

type lifecycleFixture struct {
	stores   *stubStores
	ledger   *stubLedger
	vendor   *stubVendor
	assets   *stubAssets
	payments *stubPayments
	events   chan string
	svc      *TryOnService
}

func newLifecycleFixture(credits int, polls [][]tryonvendor.Result) *lifecycleFixture {
	events := make(chan string, 32)
	stores := &stubStores{store: domain.Store{ID: "store-1", Shop: testShop, Credits: credits}}
	f := &lifecycleFixture{
		stores:   stores,
		ledger:   newStubLedger(stores, events),
		vendor:   &stubVendor{polls: polls},
		assets:   &stubAssets{},
		payments: &stubPayments{events: events},
		events:   events,
	}
	f.svc = NewTryOnService(f.stores, f.ledger, f.payments, f.vendor, f.assets, 1, time.Millisecond, 5)
	return f
}

func waitFor(t *testing.T, events chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func urlRequest() domain.CreateSessionRequest {
	return domain.CreateSessionRequest{
		ModelImage: domain.ImageInput{URL: "https://cdn.example.com/model.png"},
		DressImage: domain.ImageInput{URL: "https://cdn.example.com/dress.jpg"},
		Category:   "top",
	}
}

func TestLifecycleSuccessStoresReuploadedAsset(t *testing.T) {
	vendorURL := "https://vendor.example.com/out/abc123.png"
	f := newLifecycleFixture(5, [][]tryonvendor.Result{
		{{ResultID: "r1", Status: "PENDING"}},
		{{ResultID: "r1", Status: "SUCCESS", FileURL: vendorURL}},
	})

	session, err := f.svc.CreateSession(context.Background(), testShop, urlRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, f.events, "success")

	res := f.ledger.result(t, session.ID)
	if res.Status != domain.ResultSuccess {
		t.Fatalf("expected SUCCESS, got %s", res.Status)
	}
	if res.Refunded {
		t.Fatal("a successful job must not be refunded")
	}
	if res.FileURL == nil || !strings.HasPrefix(*res.FileURL, "https://cdn.test/results/"+session.ID) {
		t.Fatalf("expected the re-uploaded asset URL, got %v", res.FileURL)
	}
	if res.ResultID != "r1" {
		t.Fatalf("expected vendor result id recorded, got %q", res.ResultID)
	}

	var downloaded bool
	for _, u := range f.assets.fetchedURLs() {
		if u == vendorURL {
			downloaded = true
		}
	}
	if !downloaded {
		t.Fatal("expected the vendor asset to be downloaded before re-upload")
	}
	if got := f.stores.credits(); got != 4 {
		t.Fatalf("expected the debit to stick, balance is %d", got)
	}
}

func TestLifecycleVendorFailureRefunds(t *testing.T) {
	f := newLifecycleFixture(5, [][]tryonvendor.Result{
		{{ResultID: "r1", Status: "FAILED", ErrorMsg: "garment not detected"}},
	})

	session, err := f.svc.CreateSession(context.Background(), testShop, urlRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, f.events, "refunded")

	res := f.ledger.result(t, session.ID)
	if res.Status != domain.ResultFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !res.Refunded {
		t.Fatal("a failed job must be refunded")
	}
	if res.ErrorMsg == nil || !strings.Contains(*res.ErrorMsg, "garment not detected") {
		t.Fatalf("expected the vendor error recorded, got %v", res.ErrorMsg)
	}
	if got := f.stores.credits(); got != 5 {
		t.Fatalf("expected the balance restored, got %d", got)
	}
}

func TestLifecyclePollBudgetExhaustedRefunds(t *testing.T) {
	f := newLifecycleFixture(5, [][]tryonvendor.Result{
		{{ResultID: "r1", Status: "PENDING"}},
	})

	session, err := f.svc.CreateSession(context.Background(), testShop, urlRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, f.events, "refunded")

	res := f.ledger.result(t, session.ID)
	if res.Status != domain.ResultFailed {
		t.Fatalf("expected FAILED after budget exhaustion, got %s", res.Status)
	}
	if got := f.stores.credits(); got != 5 {
		t.Fatalf("expected the balance restored, got %d", got)
	}
}

func TestLifecycleUsageFallbackChargesOnSuccess(t *testing.T) {
	f := newLifecycleFixture(0, [][]tryonvendor.Result{
		{{ResultID: "r1", Status: "SUCCESS", FileURL: "https://vendor.example.com/out/abc.png"}},
	})
	f.payments.auth = &domain.UsageAuthorization{SubscriptionID: "sub-1", LineItemID: "li-1", AccessToken: "tok"}

	session, err := f.svc.CreateSession(context.Background(), testShop, urlRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, f.events, "charged")

	res := f.ledger.result(t, session.ID)
	if res.Cost != 0 {
		t.Fatalf("usage-billed jobs must carry zero cost, got %d", res.Cost)
	}
	f.payments.mu.Lock()
	charged := append([]string(nil), f.payments.charged...)
	f.payments.mu.Unlock()
	if len(charged) != 1 || charged[0] != session.ID {
		t.Fatalf("expected exactly one usage charge for %s, got %v", session.ID, charged)
	}
	if got := f.stores.credits(); got != 0 {
		t.Fatalf("usage billing must not touch the credit balance, got %d", got)
	}
}

func TestLifecycleInsufficientCreditsWithoutUsage(t *testing.T) {
	f := newLifecycleFixture(0, nil)

	_, err := f.svc.CreateSession(context.Background(), testShop, urlRequest())
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected a 402, got %v", err)
	}
	if f.vendor.uploads != 0 {
		t.Fatal("nothing may reach the vendor without payment")
	}
}
