package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/shopspring/decimal"
)

func (h *harness) say(from, body string) string {
	h.conversation.HandleMessage(context.Background(), InboundMessage{ID: "m", From: from, Body: body})
	return h.sender.last(from)
}

func TestConversationHappyPath(t *testing.T) {
	h := newHarness(t)
	h.deposits.newID = func() (string, error) { return "DEP-ABC12345", nil }

	if got := h.say(testOwner, "hi"); got != "Welcome! Enter an amount." {
		t.Fatalf("expected welcome, got %q", got)
	}

	h.say(testOwner, "500")
	msgs := h.sender.to(testOwner)
	if !containsAny(msgs, "You want to deposit Ksh 500") || !containsAny(msgs, "enter your phone number") {
		t.Fatalf("amount not accepted: %v", msgs)
	}

	h.sender.reset()
	h.say(testOwner, "0712345678")
	msgs = h.sender.to(testOwner)
	if len(msgs) != 2 || !strings.Contains(msgs[0], "Initiating STK push to 0712345678") ||
		!strings.Contains(msgs[1], "Deposit ID: DEP-ABC12345") || !strings.Contains(msgs[1], "~20s") {
		t.Fatalf("unexpected submission replies %v", msgs)
	}
	if !containsAny(h.sender.to(testAdmin), "Deposit Alert") {
		t.Fatalf("admin not alerted")
	}

	if got := h.say(testOwner, "dp status dep-abc12345"); !strings.Contains(got, "Status: under review") {
		t.Fatalf("unexpected status reply %q", got)
	}
	if got := h.say(testOwner, "balance"); !strings.Contains(got, "Ksh 0") {
		t.Fatalf("unexpected balance reply %q", got)
	}
	if got := h.say(testOwner, "1"); got != "Welcome! Enter an amount." {
		t.Fatalf("expected restart, got %q", got)
	}
}

func TestConversationRejectsInput(t *testing.T) {
	h := newHarness(t)
	h.say(testOwner, "hi")

	if got := h.say(testOwner, "50000"); !strings.Contains(got, "Must be between Ksh 1 and Ksh 10,000") {
		t.Fatalf("unexpected reply %q", got)
	}
	h.say(testOwner, "500")
	if got := h.say(testOwner, "0812345678"); !strings.Contains(got, "Invalid phone number") {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(h.aggregator.collects) != 0 {
		t.Fatalf("nothing should be submitted yet")
	}
	if got := h.say(testOwner, "00"); !strings.Contains(got, "Main Menu") {
		t.Fatalf("expected main menu, got %q", got)
	}
}

func TestConversationSTKFailure(t *testing.T) {
	h := newHarness(t)
	h.aggregator.collectErr = &domain.AggregatorRejectedError{StatusCode: 401, Body: "unauthorized"}

	h.say(testOwner, "hi")
	h.say(testOwner, "10")
	if got := h.say(testOwner, "0112345678"); !strings.Contains(got, "STK push failed") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestConversationStatusLookupIsOwnerScoped(t *testing.T) {
	h := newHarness(t)
	dep := h.submit(t, 500)
	stranger := "254799000111@c.us"

	h.say(stranger, "hi")
	h.say(stranger, "00")
	if got := h.say(stranger, "DP status "+dep.ID); !strings.Contains(got, "No deposit found") {
		t.Fatalf("stranger must not see other deposits: %q", got)
	}
	if got := h.say(stranger, "DP status"); !strings.Contains(got, "Usage: DP status") {
		t.Fatalf("unexpected usage reply %q", got)
	}
}

func TestConversationBannedUser(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.SetBanned(context.Background(), testOwner, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if got := h.say(testOwner, "hi"); !strings.Contains(got, "banned") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestConversationAdminCommands(t *testing.T) {
	h := newHarness(t)

	if got := h.say(testOwner, "admin setmin 5"); !strings.Contains(got, "not authorized") {
		t.Fatalf("non-admin must be refused: %q", got)
	}
	if got := h.say(testAdmin, "Admin setmax 20000"); !strings.Contains(got, "Ksh 20,000") {
		t.Fatalf("unexpected admin reply %q", got)
	}
	settings, _ := h.store.GetSettings(context.Background())
	if !settings.MaxDeposit.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("max not updated")
	}
	if got := h.say(testOwner, "hi"); got != "Welcome! Enter an amount." {
		t.Fatalf("unexpected reply %q", got)
	}
	h.say(testOwner, "15000")
	if msgs := h.sender.to(testOwner); !containsAny(msgs, "deposit Ksh 15,000") {
		t.Fatalf("new bounds not applied: %v", msgs)
	}
}

func TestConversationIgnoresOwnAndEmptyMessages(t *testing.T) {
	h := newHarness(t)
	h.conversation.HandleMessage(context.Background(), InboundMessage{From: testOwner, Body: "hi", FromMe: true})
	h.conversation.HandleMessage(context.Background(), InboundMessage{From: testOwner, Body: "   "})
	if len(h.sender.to(testOwner)) != 0 {
		t.Fatalf("expected no replies")
	}
}

func TestConversationDelayedPhonePrompt(t *testing.T) {
	h := newHarness(t)
	h.conversation.cfg.PhonePromptDelay = 3 * time.Second

	var delayed []func()
	var gotDelay time.Duration
	h.conversation.after = func(d time.Duration, f func()) {
		gotDelay = d
		delayed = append(delayed, f)
	}

	h.say(testOwner, "hi")
	h.say(testOwner, "500")
	if containsAny(h.sender.to(testOwner), "phone number") {
		t.Fatalf("phone prompt sent before delay")
	}
	if len(delayed) != 1 || gotDelay != 3*time.Second {
		t.Fatalf("expected one delayed prompt, got %d after %s", len(delayed), gotDelay)
	}
	delayed[0]()
	if got := h.sender.last(testOwner); !strings.Contains(got, "phone number") {
		t.Fatalf("delayed prompt not sent: %q", got)
	}
}

func TestConversationRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.conversation.deposits = nil

	if got := h.say(testOwner, "hi"); got != msgInternalError {
		t.Fatalf("expected apology, got %q", got)
	}
}

func TestConversationSerializesPerOwner(t *testing.T) {
	h := newHarness(t)
	h.say(testOwner, "hi")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.say(testOwner, "balance")
		}()
	}
	wg.Wait()

	if n := len(h.sender.to(testOwner)); n != 11 {
		t.Fatalf("expected 11 replies, got %d", n)
	}
	if len(h.conversation.locks.locks) != 0 {
		t.Fatalf("idle locks not released")
	}
}

func TestFormatKsh(t *testing.T) {
	tests := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.NewFromInt(10000), "Ksh 10,000"},
		{decimal.NewFromInt(1), "Ksh 1"},
		{decimal.RequireFromString("99.5"), "Ksh 99.5"},
	}
	for _, tt := range tests {
		if got := FormatKsh(tt.in); got != tt.want {
			t.Errorf("FormatKsh(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
