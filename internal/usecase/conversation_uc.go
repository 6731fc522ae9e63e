// internal/usecase/conversation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/internal/session"

	"go.uber.org/zap"
)

const adminKeyword = "admin"

// InboundMessage is one chat message delivered by the gateway.
type InboundMessage struct {
	ID     string
	From   string
	Body   string
	FromMe bool
}

type ConversationConfig struct {
	PhonePromptDelay time.Duration
	Location         *time.Location
	IsAdmin          func(chatID string) bool
}

// ConversationUsecase drives the per-user deposit conversation.
type ConversationUsecase struct {
	store    repository.Store
	sessions session.Store
	deposits *DepositUsecase
	admin    *AdminUsecase
	sender   messaging.Sender
	cfg      ConversationConfig
	logger   *zap.Logger

	locks *keyedMutex
	now   func() time.Time
	// after schedules delayed replies; replaced in tests
	after func(d time.Duration, f func())
}

func NewConversationUsecase(
	store repository.Store,
	sessions session.Store,
	deposits *DepositUsecase,
	admin *AdminUsecase,
	sender messaging.Sender,
	cfg ConversationConfig,
	logger *zap.Logger,
) *ConversationUsecase {
	if cfg.IsAdmin == nil {
		cfg.IsAdmin = func(string) bool { return false }
	}
	return &ConversationUsecase{
		store:    store,
		sessions: sessions,
		deposits: deposits,
		admin:    admin,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// HandleMessage processes one inbound message. Messages from the same sender are
// handled one at a time. It never returns an error: failures are logged and the
// user receives a generic apology.
func (uc *ConversationUsecase) HandleMessage(ctx context.Context, msg InboundMessage) {
	body := strings.TrimSpace(msg.Body)
	if msg.FromMe || msg.From == "" || body == "" {
		return
	}

	unlock := uc.locks.Lock(msg.From)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("panic while handling message",
				zap.String("from", msg.From),
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			uc.reply(ctx, msg.From, msgInternalError)
		}
	}()

	if err := uc.handle(ctx, msg.From, body); err != nil {
		uc.logger.Error("failed to handle message",
			zap.String("from", msg.From),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		uc.reply(ctx, msg.From, msgInternalError)
	}
}

func (uc *ConversationUsecase) handle(ctx context.Context, from, body string) error {
	if isAdminCommand(body) {
		if !uc.cfg.IsAdmin(from) {
			uc.reply(ctx, from, msgNotAdmin)
			return nil
		}
		uc.logger.Info("admin command", zap.String("admin", from), zap.String("command", body))
		uc.reply(ctx, from, uc.admin.HandleCommand(ctx, body[len(adminKeyword):]))
		return nil
	}

	user, err := uc.store.EnsureUser(ctx, from)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if user.Banned {
		uc.reply(ctx, from, msgBanned)
		return nil
	}

	sess, err := uc.sessions.Get(ctx, from)
	if errors.Is(err, session.ErrNotFound) {
		sess = domain.NewSession(from, uc.now())
	} else if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	rules, err := uc.deposits.Rules(ctx)
	if err != nil {
		return err
	}

	step := sess.Next(body, rules)
	sess.Apply(step, uc.now())
	if err := uc.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	uc.logger.Debug("conversation step",
		zap.String("from", from),
		zap.String("action", string(step.Action)),
		zap.String("next", string(step.Next)))

	return uc.perform(ctx, from, user, step, rules)
}

func (uc *ConversationUsecase) perform(ctx context.Context, from string, user *domain.User, step domain.Step, rules domain.DepositRules) error {
	switch step.Action {
	case domain.ActionWelcome:
		settings, err := uc.store.GetSettings(ctx)
		if err != nil {
			return err
		}
		uc.reply(ctx, from, settings.WelcomeMessage)

	case domain.ActionRejectAmount:
		uc.reply(ctx, from, msgInvalidAmount(rules.Min, rules.Max))

	case domain.ActionPromptPhone:
		uc.reply(ctx, from, msgAmountAccepted(step.Amount))
		uc.delayedReply(ctx, from, msgPhonePrompt)

	case domain.ActionRejectPhone:
		uc.reply(ctx, from, msgInvalidPhone)

	case domain.ActionSubmitDeposit:
		return uc.submit(ctx, from, step, rules)

	case domain.ActionShowMenu:
		uc.reply(ctx, from, msgMainMenu)

	case domain.ActionStatusLookup:
		dep, err := uc.store.GetDeposit(ctx, step.DepositID)
		if errors.Is(err, domain.ErrDepositNotFound) || (err == nil && dep.OwnerID != from && !uc.cfg.IsAdmin(from)) {
			uc.reply(ctx, from, msgDepositNotFound(step.DepositID))
			return nil
		}
		if err != nil {
			return err
		}
		uc.reply(ctx, from, msgDepositDetails(dep, uc.cfg.Location))

	case domain.ActionStatusUsage:
		uc.reply(ctx, from, msgStatusUsage)

	case domain.ActionShowBalance:
		uc.reply(ctx, from, msgBalance(user))

	default:
		uc.reply(ctx, from, msgHelp)
	}
	return nil
}

func (uc *ConversationUsecase) submit(ctx context.Context, from string, step domain.Step, rules domain.DepositRules) error {
	uc.reply(ctx, from, msgInitiating(step.Phone, step.Amount))

	dep, err := uc.deposits.Submit(ctx, from, step.Amount, step.Phone)
	if domain.IsValidationError(err) {
		// bounds changed between prompt and submission
		uc.reply(ctx, from, msgInvalidAmount(rules.Min, rules.Max))
		return nil
	}
	if err != nil {
		return fmt.Errorf("submit deposit: %w", err)
	}

	if dep.Status == domain.DepositStatusUnderReview {
		uc.reply(ctx, from, msgSTKSent(dep, uc.deposits.StatusCheckDelay()))
	} else {
		uc.reply(ctx, from, msgSTKFailed)
	}
	return nil
}

func (uc *ConversationUsecase) reply(ctx context.Context, to, text string) {
	if err := uc.sender.Send(ctx, to, text); err != nil {
		uc.logger.Warn("failed to send reply",
			zap.String("to", to),
			zap.Error(err))
	}
}

// delayedReply paces the next prompt. The session has already moved on, so input
// that arrives during the delay is handled against the new state.
func (uc *ConversationUsecase) delayedReply(ctx context.Context, to, text string) {
	if uc.cfg.PhonePromptDelay <= 0 {
		uc.reply(ctx, to, text)
		return
	}
	ctx = context.WithoutCancel(ctx)
	uc.after(uc.cfg.PhonePromptDelay, func() {
		uc.reply(ctx, to, text)
	})
}

func isAdminCommand(body string) bool {
	fields := strings.Fields(body)
	return len(fields) > 0 && strings.EqualFold(fields[0], adminKeyword)
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
