// internal/domain/session.go
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ConversationState string

const (
	StateIdle           ConversationState = "idle"
	StateAwaitingAmount ConversationState = "awaiting_amount"
	StateAwaitingPhone  ConversationState = "awaiting_phone"
	StateAwaitingMenu   ConversationState = "awaiting_menu"
)

// Action is the side effect the conversation handler must perform for a step.
type Action string

const (
	ActionWelcome       Action = "welcome"
	ActionRejectAmount  Action = "reject_amount"
	ActionPromptPhone   Action = "prompt_phone"
	ActionRejectPhone   Action = "reject_phone"
	ActionSubmitDeposit Action = "submit_deposit"
	ActionShowMenu      Action = "show_menu"
	ActionStatusLookup  Action = "status_lookup"
	ActionStatusUsage   Action = "status_usage"
	ActionShowBalance   Action = "show_balance"
	ActionHelp          Action = "help"
)

// Menu commands.
const (
	CommandMainMenu   = "00"
	CommandNewDeposit = "1"
	CommandBalance    = "balance"
)

var statusQueryPattern = regexp.MustCompile(`(?i)^dp\s+status(?:\s+(.*))?$`)

// Session is one user's position in the deposit conversation.
type Session struct {
	OwnerID       string            `json:"owner_id"`
	State         ConversationState `json:"state"`
	PendingAmount *decimal.Decimal  `json:"pending_amount,omitempty"`
	PendingPhone  string            `json:"pending_phone,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func NewSession(ownerID string, now time.Time) *Session {
	return &Session{OwnerID: ownerID, State: StateIdle, UpdatedAt: now}
}

// Step is the outcome of feeding one inbound message to a session.
type Step struct {
	Next      ConversationState
	Action    Action
	Amount    decimal.Decimal
	Phone     string
	DepositID string
	Err       error
}

// Next is the total transition function of the conversation. It never mutates s.
func (s *Session) Next(input string, rules DepositRules) Step {
	text := strings.TrimSpace(input)

	switch s.State {
	case StateAwaitingAmount:
		if text == CommandMainMenu {
			return Step{Next: StateAwaitingMenu, Action: ActionShowMenu}
		}
		amount, err := decimal.NewFromString(text)
		if err != nil {
			return Step{Next: StateAwaitingAmount, Action: ActionRejectAmount,
				Err: &ValidationError{Field: "amount", Reason: "not a number"}}
		}
		if err := rules.ValidateAmount(amount); err != nil {
			return Step{Next: StateAwaitingAmount, Action: ActionRejectAmount, Err: err}
		}
		return Step{Next: StateAwaitingPhone, Action: ActionPromptPhone, Amount: amount}

	case StateAwaitingPhone:
		if text == CommandMainMenu {
			return Step{Next: StateAwaitingMenu, Action: ActionShowMenu}
		}
		if s.PendingAmount == nil {
			// amount lost (e.g. session restored without it); start over
			return Step{Next: StateAwaitingAmount, Action: ActionWelcome}
		}
		if err := rules.ValidatePhone(text); err != nil {
			return Step{Next: StateAwaitingPhone, Action: ActionRejectPhone, Err: err}
		}
		return Step{Next: StateAwaitingMenu, Action: ActionSubmitDeposit, Amount: *s.PendingAmount, Phone: text}

	case StateAwaitingMenu:
		if m := statusQueryPattern.FindStringSubmatch(text); m != nil {
			id := strings.TrimSpace(m[1])
			if id == "" {
				return Step{Next: StateAwaitingMenu, Action: ActionStatusUsage}
			}
			return Step{Next: StateAwaitingMenu, Action: ActionStatusLookup, DepositID: strings.ToUpper(id)}
		}
		switch strings.ToLower(text) {
		case CommandMainMenu:
			return Step{Next: StateAwaitingMenu, Action: ActionShowMenu}
		case CommandNewDeposit, "deposit":
			return Step{Next: StateAwaitingAmount, Action: ActionWelcome}
		case CommandBalance:
			return Step{Next: StateAwaitingMenu, Action: ActionShowBalance}
		}
		return Step{Next: StateAwaitingMenu, Action: ActionHelp}

	default:
		// idle, or a state persisted by an older build
		return Step{Next: StateAwaitingAmount, Action: ActionWelcome}
	}
}

// Apply moves the session to step.Next and maintains the scratch fields.
func (s *Session) Apply(step Step, now time.Time) {
	s.State = step.Next
	s.UpdatedAt = now

	switch step.Action {
	case ActionPromptPhone:
		amount := step.Amount
		s.PendingAmount = &amount
		s.PendingPhone = ""
	case ActionRejectAmount, ActionRejectPhone:
		// keep scratch values for the retry
	default:
		if step.Next != StateAwaitingPhone {
			s.PendingAmount = nil
			s.PendingPhone = ""
		}
	}
}
