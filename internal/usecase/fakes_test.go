package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/internal/session"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

const (
	testOwner          = "254712345678@c.us"
	testAdmin          = "254701339573@c.us"
	testCallbackSecret = "callback-secret"
)

type fakeAggregator struct {
	mu          sync.Mutex
	collectResp *provider.CollectionResponse
	collectErr  error
	status      *provider.CollectionStatus
	statusErr   error
	collects    []provider.CollectionRequest
	statusRefs  []string
}

func (f *fakeAggregator) GetName() string { return "fake" }

func (f *fakeAggregator) RequestCollection(ctx context.Context, req provider.CollectionRequest) (*provider.CollectionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collects = append(f.collects, req)
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.collectResp != nil {
		return f.collectResp, nil
	}
	return &provider.CollectionResponse{Accepted: true, Reference: req.Reference, Status: "QUEUED"}, nil
}

func (f *fakeAggregator) GetCollectionStatus(ctx context.Context, reference string) (*provider.CollectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusRefs = append(f.statusRefs, reference)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status == nil {
		return &provider.CollectionStatus{Status: "QUEUED"}, nil
	}
	return f.status, nil
}

// ParseCallback accepts {"ref":"DEP-..","success":true,"code":"QK..","amount":"500"}.
func (f *fakeAggregator) ParseCallback(payload []byte) (*provider.CallbackResult, error) {
	var body struct {
		Ref     string          `json:"ref"`
		Success bool            `json:"success"`
		Code    string          `json:"code"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	if body.Ref == "" {
		return nil, errors.New("missing reference")
	}
	return &provider.CallbackResult{ExternalReference: body.Ref, Success: body.Success, ProviderCode: body.Code, Amount: body.Amount}, nil
}

func (f *fakeAggregator) setStatus(status, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = &provider.CollectionStatus{Status: status, ProviderCode: code}
}

func (f *fakeAggregator) setPaid(code string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = &provider.CollectionStatus{Status: "SUCCESS", ProviderCode: code, Amount: amount}
}

func (f *fakeAggregator) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusRefs)
}

func (f *fakeAggregator) lastStatusRef() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusRefs) == 0 {
		return ""
	}
	return f.statusRefs[len(f.statusRefs)-1]
}

type sentMessage struct {
	to   string
	text string
}

type recordingSender struct {
	mu      sync.Mutex
	msgs    []sentMessage
	failFor map[string]bool
}

func (s *recordingSender) Send(ctx context.Context, recipient, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[recipient] {
		return errors.New("gateway unavailable")
	}
	s.msgs = append(s.msgs, sentMessage{to: recipient, text: text})
	return nil
}

func (s *recordingSender) to(recipient string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		if m.to == recipient {
			out = append(out, m.text)
		}
	}
	return out
}

func (s *recordingSender) last(recipient string) string {
	msgs := s.to(recipient)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]bool
	cancelled []string
}

func (f *fakeScheduler) Schedule(depositID string, notifyPending bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduled == nil {
		f.scheduled = map[string]bool{}
	}
	f.scheduled[depositID] = notifyPending
}

func (f *fakeScheduler) Cancel(depositID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, depositID)
}

func (f *fakeScheduler) wasScheduled(id string) (notifyPending, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notifyPending, ok = f.scheduled[id]
	return
}

type harness struct {
	store        *repository.FileStore
	aggregator   *fakeAggregator
	sender       *recordingSender
	scheduler    *fakeScheduler
	status       *StatusUsecase
	deposits     *DepositUsecase
	admin        *AdminUsecase
	callbacks    *CallbackUsecase
	conversation *ConversationUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := repository.NewFileStore(filepath.Join(t.TempDir(), "state.json"), domain.Settings{
		MinDeposit:     decimal.NewFromInt(1),
		MaxDeposit:     decimal.NewFromInt(10000),
		WelcomeMessage: "Welcome! Enter an amount.",
	}, logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	h := &harness{
		store:      store,
		aggregator: &fakeAggregator{},
		sender:     &recordingSender{failFor: map[string]bool{}},
		scheduler:  &fakeScheduler{},
	}
	publisher := events.NopPublisher{}
	loc := time.FixedZone("EAT", 3*60*60)

	h.status = NewStatusUsecase(store, h.aggregator, h.sender, publisher, logger)
	h.deposits = NewDepositUsecase(store, h.aggregator, h.sender, publisher, h.scheduler, DepositConfig{
		PhonePattern:     regexp.MustCompile(`^(07|01)\d{8}$`),
		AlertRecipient:   testAdmin,
		StatusCheckDelay: 20 * time.Second,
		Location:         loc,
		CallbackURL:      "https://bot.example.com/api/v1/callbacks/payhero",
		CallbackSecret:   testCallbackSecret,
	}, logger)
	h.admin = NewAdminUsecase(store, h.aggregator, h.status, h.scheduler, h.sender, publisher, loc, logger)
	h.callbacks = NewCallbackUsecase(store, h.aggregator, h.status, h.scheduler, testCallbackSecret, logger)
	h.conversation = NewConversationUsecase(store, session.NewMemoryStore(0), h.deposits, h.admin, h.sender, ConversationConfig{
		Location: loc,
		IsAdmin:  func(chatID string) bool { return chatID == testAdmin },
	}, logger)
	return h
}

// submit places an under_review deposit for testOwner.
func (h *harness) submit(t *testing.T, amount int64) *domain.DepositRequest {
	t.Helper()
	dep, err := h.deposits.Submit(context.Background(), testOwner, decimal.NewFromInt(amount), "0712345678")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dep.Status != domain.DepositStatusUnderReview {
		t.Fatalf("expected under_review, got %s", dep.Status)
	}
	h.sender.reset()
	return dep
}

func (h *harness) balance(t *testing.T, owner string) decimal.Decimal {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), owner)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u.Balance
}

func containsAny(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
