// internal/usecase/admin_commands.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"

	"github.com/shopspring/decimal"
)

const adminUsage = "❓ Unrecognized admin command. Options: setmin, setmax, setwelcome, depositlist, deposit, credit, debit, ban, unban, approve, reject, message"

// HandleCommand executes one "admin ..." text command and returns the reply.
// args is the message with the leading "admin" keyword removed.
func (uc *AdminUsecase) HandleCommand(ctx context.Context, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "❓ Please specify an admin command after 'admin'."
	}
	cmd := strings.ToLower(fields[0])
	rest := fields[1:]

	switch cmd {
	case "setmin", "setmax":
		if len(rest) < 1 {
			return fmt.Sprintf("❓ Usage: admin %s <amount>", cmd)
		}
		v, err := decimal.NewFromString(rest[0])
		if err != nil {
			return "❌ Invalid amount."
		}
		settings, err := uc.store.GetSettings(ctx)
		if err != nil {
			return adminError(err)
		}
		min, max := settings.MinDeposit, settings.MaxDeposit
		if cmd == "setmin" {
			min = v
		} else {
			max = v
		}
		updated, err := uc.SetDepositBounds(ctx, min, max)
		if err != nil {
			return adminError(err)
		}
		return fmt.Sprintf("✅ Deposit limits updated: %s to %s.", FormatKsh(updated.MinDeposit), FormatKsh(updated.MaxDeposit))

	case "setwelcome":
		// keep the admin's own spacing and case after the command word
		text := afterWords(args, 1)
		if text == "" {
			return "❓ Usage: admin setwelcome <new welcome message>"
		}
		if _, err := uc.SetWelcomeMessage(ctx, text); err != nil {
			return adminError(err)
		}
		return "✅ Welcome message updated to:\n" + text

	case "depositlist":
		filter := repository.DepositFilter{Limit: depositListLimit}
		if len(rest) > 0 {
			filter.Status = domain.DepositStatus(strings.ToLower(rest[0]))
			if !filter.Status.Valid() {
				return "❓ Usage: admin depositlist [initiating|under_review|confirmed|failed]"
			}
		}
		deps, err := uc.ListDeposits(ctx, filter)
		if err != nil {
			return adminError(err)
		}
		if len(deps) == 0 {
			return "📋 No deposit attempts found."
		}
		var b strings.Builder
		b.WriteString("📋 Deposit Attempts:")
		for i, d := range deps {
			fmt.Fprintf(&b, "\n%d. ID: %s | Amount: %s | Status: %s | Time: %s",
				i+1, d.ID, FormatKsh(d.Amount), statusLabel(d.Status), formatTime(d.CreatedAt, uc.location))
		}
		return b.String()

	case "deposit":
		if len(rest) < 1 {
			return "❓ Usage: admin deposit <DEP-ID>"
		}
		d, err := uc.GetDepositByID(ctx, rest[0])
		if err != nil {
			return adminError(err)
		}
		return msgDepositDetails(d, uc.location) + "\nOwner: " + d.OwnerID + "\nPhone: " + d.MSISDN

	case "credit", "debit":
		if len(rest) < 2 {
			return fmt.Sprintf("❓ Usage: admin %s <phone> <amount>", cmd)
		}
		amount, err := decimal.NewFromString(rest[1])
		if err != nil || !amount.IsPositive() {
			return "❌ Invalid amount."
		}
		if cmd == "debit" {
			amount = amount.Neg()
		}
		u, err := uc.CreditUserBalance(ctx, messaging.ChatID(rest[0]), amount)
		if err != nil {
			return adminError(err)
		}
		return fmt.Sprintf("✅ Balance for %s is now %s.", u.OwnerID, FormatKsh(u.Balance))

	case "ban", "unban":
		if len(rest) < 1 {
			return fmt.Sprintf("❓ Usage: admin %s <phone>", cmd)
		}
		owner := messaging.ChatID(rest[0])
		var err error
		if cmd == "ban" {
			_, err = uc.BanUser(ctx, owner)
		} else {
			_, err = uc.UnbanUser(ctx, owner)
		}
		if err != nil {
			return adminError(err)
		}
		return fmt.Sprintf("✅ %s %sned.", owner, cmd)

	case "approve":
		if len(rest) < 1 {
			return "❓ Usage: admin approve <DEP-ID>"
		}
		check, err := uc.RecheckDeposit(ctx, rest[0])
		if err != nil {
			return adminError(err)
		}
		switch check.Outcome {
		case domain.OutcomeConfirmed:
			return fmt.Sprintf("✅ %s confirmed by provider and credited.", check.Deposit.ID)
		case domain.OutcomeFailed:
			return fmt.Sprintf("❌ Provider reports %s as FAILED; it was not credited.", check.Deposit.ID)
		case domain.OutcomePending:
			return fmt.Sprintf("ℹ️ Provider still reports %s as %s; not credited.", check.Deposit.ID, check.ProviderStatus)
		case domain.OutcomeUnknown:
			return fmt.Sprintf("⚠️ Could not reach the provider for %s; it remains under review.", check.Deposit.ID)
		default:
			return fmt.Sprintf("ℹ️ %s is already %s.", check.Deposit.ID, statusLabel(check.Deposit.Status))
		}

	case "reject":
		if len(rest) < 1 {
			return "❓ Usage: admin reject <DEP-ID> [reason]"
		}
		d, err := uc.RejectDeposit(ctx, rest[0], afterWords(args, 2))
		switch {
		case errors.Is(err, ErrProviderConfirmed):
			return fmt.Sprintf("⚠️ Provider reports %s as paid; it was confirmed instead of rejected.", d.ID)
		case errors.Is(err, domain.ErrIllegalTransition) && d != nil:
			return fmt.Sprintf("ℹ️ %s is already %s.", d.ID, statusLabel(d.Status))
		case err != nil:
			return adminError(err)
		}
		return fmt.Sprintf("✅ %s marked as failed.", d.ID)

	case "message":
		if len(rest) < 2 {
			return "❓ Usage: admin message <comma separated phone numbers> <your message>"
		}
		recipients := strings.Split(rest[0], ",")
		res, err := uc.Broadcast(ctx, recipients, afterWords(args, 2))
		if err != nil {
			return adminError(err)
		}
		reply := fmt.Sprintf("✅ Message sent to %d recipient(s).", len(res.Sent))
		if len(res.Failed) > 0 {
			reply += "\n⚠️ Failed: " + strings.Join(res.Failed, ", ")
		}
		return reply
	}

	return adminUsage
}

func adminError(err error) string {
	switch {
	case errors.Is(err, domain.ErrDepositNotFound):
		return "❌ No deposit found with that ID."
	case errors.Is(err, domain.ErrUserNotFound):
		return "❌ No user found with that number."
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "❌ Insufficient balance for that debit."
	case errors.Is(err, domain.ErrInvalidBounds):
		return "❌ Invalid limits: minimum must be above zero and not exceed the maximum."
	case domain.IsValidationError(err):
		return "❌ " + err.Error()
	}
	return "⚠️ Command failed: " + err.Error()
}

// afterWords returns s with its first n whitespace-separated words removed.
func afterWords(s string, n int) string {
	s = strings.TrimSpace(s)
	for i := 0; i < n && s != ""; i++ {
		idx := strings.IndexAny(s, " \t\n")
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx:])
	}
	return s
}
