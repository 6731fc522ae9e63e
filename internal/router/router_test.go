package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/config"
	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/handler"
	authmw "github.com/SHANKHAN254/fys-investment-bot/internal/middleware"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider/payhero"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/internal/scheduler"
	"github.com/SHANKHAN254/fys-investment-bot/internal/session"
	"github.com/SHANKHAN254/fys-investment-bot/internal/usecase"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/signature"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

const (
	owner          = "254712345678@c.us"
	admin          = "254701339573@c.us"
	webhookSecret  = "gateway-secret"
	callbackSecret = "callback-secret"
	callbackBase   = "https://bot.example.com/api/v1/callbacks/payhero"
)

type outbox struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (o *outbox) Send(ctx context.Context, recipient, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[recipient] = append(o.sent[recipient], text)
	return nil
}

func (o *outbox) last(recipient string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.sent[recipient]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type app struct {
	server   *httptest.Server
	store    *repository.FileStore
	poller   *scheduler.StatusPoller
	outbox   *outbox
	verifier *authmw.Verifier

	mu       sync.Mutex
	payments []map[string]interface{}
	status   string
}

func newApp(t *testing.T) *app {
	t.Helper()
	logger := zaptest.NewLogger(t)
	a := &app{outbox: &outbox{sent: map[string][]string{}}, status: "QUEUED"}

	payHero := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			a.payments = append(a.payments, body)
			_, _ = io.WriteString(w, `{"success":true,"status":"QUEUED","reference":"`+body["external_reference"].(string)+`"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"`+a.status+`","provider_reference":"QKROUTER1","amount":500}`)
	}))
	t.Cleanup(payHero.Close)

	store, err := repository.NewFileStore(filepath.Join(t.TempDir(), "state.json"), domain.Settings{
		MinDeposit: decimal.NewFromInt(1), MaxDeposit: decimal.NewFromInt(10000), WelcomeMessage: "Welcome!",
	}, logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	a.store = store

	aggregator := payhero.NewPayHeroProvider(config.PayHeroConfig{
		PaymentsURL: payHero.URL + "/payments",
		StatusURL:   payHero.URL + "/transaction-status",
		AuthToken:   "Basic test",
		ChannelID:   529,
		Provider:    "m-pesa",
		Timeout:     5 * time.Second,
	}, logger)

	publisher := events.NopPublisher{}
	statusUC := usecase.NewStatusUsecase(store, aggregator, a.outbox, publisher, logger)
	a.poller = scheduler.NewStatusPoller(statusUC, scheduler.PollerConfig{InitialDelay: time.Hour, Attempts: 1}, logger)
	t.Cleanup(func() { _ = a.poller.Shutdown(context.Background()) })

	loc := time.FixedZone("EAT", 3*60*60)
	depositUC := usecase.NewDepositUsecase(store, aggregator, a.outbox, publisher, a.poller, usecase.DepositConfig{
		PhonePattern:     regexp.MustCompile(`^(07|01)\d{8}$`),
		AlertRecipient:   admin,
		StatusCheckDelay: 20 * time.Second,
		Location:         loc,
		CallbackURL:      callbackBase,
		CallbackSecret:   callbackSecret,
	}, logger)
	adminUC := usecase.NewAdminUsecase(store, aggregator, statusUC, a.poller, a.outbox, publisher, loc, logger)
	callbackUC := usecase.NewCallbackUsecase(store, aggregator, statusUC, a.poller, callbackSecret, logger)
	conversationUC := usecase.NewConversationUsecase(store, session.NewMemoryStore(0), depositUC, adminUC, a.outbox,
		usecase.ConversationConfig{Location: loc, IsAdmin: func(id string) bool { return id == admin }}, logger)

	a.verifier = authmw.NewVerifier("router-secret", "fys-deposit-bot")
	h := SetupRoutes(Handlers{
		Webhook:  handler.NewWebhookHandler(conversationUC, logger),
		Callback: handler.NewCallbackHandler(callbackUC, logger),
		Admin:    handler.NewAdminHandler(adminUC, logger),
		Health:   handler.NewHealthHandler(a.poller.Len),
	}, Options{Verifier: a.verifier, WebhookSecret: webhookSecret}, logger)

	a.server = httptest.NewServer(h)
	t.Cleanup(a.server.Close)
	return a
}

func (a *app) do(t *testing.T, method, path, token string, body interface{}) (int, response.APIResponse) {
	t.Helper()
	return a.send(t, method, path, token, body, false)
}

// webhook posts body to the WhatsApp webhook, signed with the gateway secret when sign is set.
func (a *app) webhook(t *testing.T, body interface{}, sign bool) (int, response.APIResponse) {
	t.Helper()
	return a.send(t, http.MethodPost, "/api/v1/webhooks/whatsapp", "", body, sign)
}

func (a *app) send(t *testing.T, method, path, token string, body interface{}, sign bool) (int, response.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	payload := buf.Bytes()
	req, err := http.NewRequest(method, a.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sign {
		ts := time.Now().Unix()
		req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(signature.HeaderSignature, signature.Sign(webhookSecret, payload, ts))
	}
	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out response.APIResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (a *app) chat(t *testing.T, from, body string) {
	t.Helper()
	code, _ := a.webhook(t, handler.InboundMessageRequest{MessageID: "wamid-1", From: from, Body: body}, true)
	if code != http.StatusOK {
		t.Fatalf("webhook returned %d", code)
	}
}

func (a *app) setStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

func (a *app) callback(t *testing.T, token, payload string) int {
	t.Helper()
	resp, err := a.server.Client().Post(a.server.URL+"/api/v1/callbacks/payhero/"+token, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func successCallback(ref string) string {
	return `{"status":true,"response":{"Amount":500,"ExternalReference":"` + ref +
		`","MpesaReceiptNumber":"QKCB12345","Phone":"254712345678","ResultCode":0,"ResultDesc":"The service request is processed successfully.","Status":"Success"}}`
}

func (a *app) stkRequests() []map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]interface{}(nil), a.payments...)
}

func (a *app) onlyDeposit(t *testing.T) *domain.DepositRequest {
	t.Helper()
	deps, err := a.store.ListDeposits(context.Background(), repository.DepositFilter{OwnerID: owner})
	if err != nil || len(deps) != 1 {
		t.Fatalf("expected one deposit, got %d (%v)", len(deps), err)
	}
	return deps[0]
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	code, resp := a.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("unexpected health response %d %+v", code, resp)
	}
}

func TestMetricsExposeDepositCounters(t *testing.T) {
	a := newApp(t)

	a.chat(t, owner, "hi")
	a.chat(t, owner, "250")
	a.chat(t, owner, "0712345678")

	resp, err := a.server.Client().Get(a.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics returned %d", resp.StatusCode)
	}
	for _, want := range []string{
		`deposit_bot_deposits_submitted_total{status="under_review"}`,
		`deposit_bot_aggregator_request_duration_seconds_count{operation="collection"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}

func TestDepositThroughWebhookAndCallback(t *testing.T) {
	a := newApp(t)

	a.chat(t, owner, "hi")
	a.chat(t, owner, "500")
	a.chat(t, owner, "0712345678")

	dep := a.onlyDeposit(t)
	if dep.Status != domain.DepositStatusUnderReview {
		t.Fatalf("expected under_review, got %s", dep.Status)
	}
	payments := a.stkRequests()
	if len(payments) != 1 || payments[0]["phone_number"] != "0712345678" ||
		payments[0]["external_reference"] != dep.ID || payments[0]["amount"] != float64(500) ||
		payments[0]["callback_url"] != callbackBase+"/"+usecase.CallbackToken(callbackSecret, dep.ID) {
		t.Fatalf("unexpected STK request %v", payments)
	}
	if !a.poller.Pending(dep.ID) {
		t.Fatalf("status check not scheduled")
	}
	if !strings.Contains(a.outbox.last(owner), dep.ID) {
		t.Fatalf("owner not told the deposit id: %q", a.outbox.last(owner))
	}

	a.setStatus("SUCCESS")
	token := usecase.CallbackToken(callbackSecret, dep.ID)
	for i := 0; i < 2; i++ {
		if code := a.callback(t, token, successCallback(dep.ID)); code != http.StatusOK {
			t.Fatalf("callback returned %d", code)
		}
	}

	dep = a.onlyDeposit(t)
	if dep.Status != domain.DepositStatusConfirmed || dep.ProviderCode == nil || *dep.ProviderCode != "QKROUTER1" {
		t.Fatalf("deposit not confirmed: %+v", dep)
	}
	u, _ := a.store.GetUser(context.Background(), owner)
	if !u.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected a single credit of 500, got %s", u.Balance)
	}
	if a.poller.Pending(dep.ID) {
		t.Fatalf("status check must be cancelled by the callback")
	}
	if !strings.Contains(a.outbox.last(owner), "has been confirmed") {
		t.Fatalf("owner not notified: %q", a.outbox.last(owner))
	}
}

func TestForgedCallbackLeavesDepositUnderReview(t *testing.T) {
	a := newApp(t)

	a.chat(t, owner, "hi")
	a.chat(t, owner, "500")
	a.chat(t, owner, "0712345678")
	dep := a.onlyDeposit(t)

	// a success notice the aggregator's status API does not back up
	if code := a.callback(t, usecase.CallbackToken(callbackSecret, dep.ID), successCallback(dep.ID)); code != http.StatusOK {
		t.Fatalf("callback returned %d", code)
	}
	// a success notice without the deposit's token
	if code := a.callback(t, "0000", successCallback(dep.ID)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", code)
	}
	if code := a.callback(t, usecase.CallbackToken("guess", dep.ID), successCallback(dep.ID)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token from another secret, got %d", code)
	}

	dep = a.onlyDeposit(t)
	if dep.Status != domain.DepositStatusUnderReview {
		t.Fatalf("expected under_review, got %s", dep.Status)
	}
	u, _ := a.store.GetUser(context.Background(), owner)
	if !u.Balance.IsZero() {
		t.Fatalf("forged callback credited %s", u.Balance)
	}
}

func TestCallbackEdgeCases(t *testing.T) {
	a := newApp(t)

	if code := a.callback(t, "anything", "{"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", code)
	}
	if code := a.callback(t, usecase.CallbackToken(callbackSecret, "DEP-UNKNOWN0"),
		`{"response":{"ExternalReference":"DEP-UNKNOWN0","ResultCode":0,"Status":"Success"}}`); code != http.StatusOK {
		t.Fatalf("unknown references must be acknowledged, got %d", code)
	}
	resp, err := a.server.Client().Post(a.server.URL+"/api/v1/callbacks/payhero", "application/json", strings.NewReader(successCallback("DEP-UNKNOWN0")))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("callbacks without a token must not be accepted")
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	a := newApp(t)
	if code, _ := a.webhook(t, "not json", true); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code, _ := a.webhook(t, handler.InboundMessageRequest{Body: "hi"}, true); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without sender, got %d", code)
	}
}

func TestUnsignedWebhookCannotRunAdminCommands(t *testing.T) {
	a := newApp(t)

	code, _ := a.webhook(t, handler.InboundMessageRequest{
		MessageID: "wamid-forged", From: admin, Body: "admin credit " + owner + " 99999",
	}, false)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unsigned webhook, got %d", code)
	}

	if u, err := a.store.GetUser(context.Background(), owner); err == nil && !u.Balance.IsZero() {
		t.Fatalf("unsigned admin command credited %s", u.Balance)
	}
	if got := a.outbox.last(admin); got != "" {
		t.Fatalf("unsigned webhook reached the bot: %q", got)
	}
}

func TestAdminAPI(t *testing.T) {
	a := newApp(t)
	token, err := a.verifier.Issue("ops", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if code, _ := a.do(t, http.MethodGet, "/api/v1/admin/deposits", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	a.chat(t, owner, "hi")
	a.chat(t, owner, "250")
	a.chat(t, owner, "0112345678")
	dep := a.onlyDeposit(t)

	code, resp := a.do(t, http.MethodGet, "/api/v1/admin/deposits?status=under_review", token, nil)
	if code != http.StatusOK || !strings.Contains(mustJSON(t, resp.Data), dep.ID) {
		t.Fatalf("deposit not listed: %d %+v", code, resp)
	}
	if code, _ := a.do(t, http.MethodGet, "/api/v1/admin/deposits?status=paid", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", code)
	}
	if code, _ := a.do(t, http.MethodGet, "/api/v1/admin/deposits/DEP-NOPE0000", token, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	code, resp = a.do(t, http.MethodPost, "/api/v1/admin/deposits/"+dep.ID+"/recheck", token, nil)
	if code != http.StatusOK || !strings.Contains(mustJSON(t, resp.Data), `"outcome":"pending"`) {
		t.Fatalf("unexpected recheck %d %+v", code, resp)
	}

	code, resp = a.do(t, http.MethodPost, "/api/v1/admin/deposits/"+dep.ID+"/reject", token, handler.RejectRequest{Reason: "duplicate"})
	if code != http.StatusOK {
		t.Fatalf("reject failed: %d %+v", code, resp)
	}
	if code, _ := a.do(t, http.MethodPost, "/api/v1/admin/deposits/"+dep.ID+"/reject", token, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal deposit, got %d", code)
	}

	if code, _ := a.do(t, http.MethodPut, "/api/v1/admin/settings/bounds", token, map[string]string{"min": "100", "max": "10"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted bounds, got %d", code)
	}
	if code, _ := a.do(t, http.MethodPut, "/api/v1/admin/settings/bounds", token, map[string]string{"min": "10", "max": "5000"}); code != http.StatusOK {
		t.Fatalf("bounds update failed: %d", code)
	}

	if code, _ := a.do(t, http.MethodPost, "/api/v1/admin/users/0712345678/credit", token, map[string]string{"amount": "75"}); code != http.StatusOK {
		t.Fatalf("credit failed: %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/api/v1/admin/users/0712345678/credit", token, map[string]string{"amount": "-100"}); code != http.StatusConflict {
		t.Fatalf("expected 409 for overdraft, got %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/api/v1/admin/users/"+owner+"/ban", token, nil); code != http.StatusOK {
		t.Fatalf("ban failed: %d", code)
	}
	a.chat(t, owner, "hi")
	if !strings.Contains(a.outbox.last(owner), "banned") {
		t.Fatalf("banned user not told: %q", a.outbox.last(owner))
	}
	if code, _ := a.do(t, http.MethodDelete, "/api/v1/admin/users/"+owner+"/ban", token, nil); code != http.StatusOK {
		t.Fatalf("unban failed: %d", code)
	}

	code, resp = a.do(t, http.MethodGet, "/api/v1/admin/users/"+owner, token, nil)
	if code != http.StatusOK || !strings.Contains(mustJSON(t, resp.Data), `"balance":"75"`) {
		t.Fatalf("unexpected user %d %+v", code, resp)
	}

	code, resp = a.do(t, http.MethodPost, "/api/v1/admin/broadcast", token, handler.BroadcastRequest{
		Recipients: []string{"0711000000"}, Text: "Maintenance tonight",
	})
	if code != http.StatusOK || a.outbox.last("254711000000@c.us") != "Maintenance tonight" {
		t.Fatalf("broadcast failed: %d %+v", code, resp)
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
