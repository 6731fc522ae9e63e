// internal/usecase/messages.go
package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var kshPrinter = message.NewPrinter(language.English)

// FormatKsh renders an amount as "Ksh 10,000" or "Ksh 99.5".
func FormatKsh(amount decimal.Decimal) string {
	return kshPrinter.Sprintf("Ksh %v", number.Decimal(amount.InexactFloat64(), number.MaxFractionDigits(2)))
}

const timestampLayout = "02/01/2006, 15:04:05"

func formatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		return t.Format(timestampLayout)
	}
	return t.In(loc).Format(timestampLayout)
}

const (
	msgMainMenu      = "🏠 Main Menu:\n1️⃣ Deposit\n💰 balance - view your balance\n🔎 DP status <DEP-ID> - check a deposit\n\nReply 00 at any time to return here."
	msgHelp          = "❓ I'm not sure what you mean. Reply 1 to deposit, 'balance' for your balance, 'DP status <DEP-ID>' to check a deposit or 00 for the main menu."
	msgStatusUsage   = "❓ Usage: DP status <DEP-ID>"
	msgPhonePrompt   = "📞 Now enter your phone number (must start with 07 or 01, exactly 10 digits) to receive STK push."
	msgInvalidPhone  = "❌ Invalid phone number! Must start 07 or 01 and be exactly 10 digits. Try again."
	msgSTKFailed     = "❌ STK push failed. Please try again later."
	msgBanned        = "🚫 Your account has been banned. Contact support if you think this is a mistake."
	msgNotAdmin      = "🚫 You are not authorized to use admin commands."
	msgInternalError = "⚠️ Something went wrong on our side. Please try again shortly."
	msgCheckFailed   = "⚠️ Could not check deposit status now. It remains under review."
)

func msgOnline(now time.Time, loc *time.Location) string {
	return fmt.Sprintf("🎉 FY'S DEPOSIT BOT is now online! [%s]", formatTime(now, loc))
}

func msgInvalidAmount(min, max decimal.Decimal) string {
	return fmt.Sprintf("❌ Invalid amount. Must be between %s and %s.", FormatKsh(min), FormatKsh(max))
}

func msgAmountAccepted(amount decimal.Decimal) string {
	return fmt.Sprintf("⏳ Great! You want to deposit %s. Please wait a moment...", FormatKsh(amount))
}

func msgInitiating(phone string, amount decimal.Decimal) string {
	return fmt.Sprintf("📲 Initiating STK push to %s for %s...", phone, FormatKsh(amount))
}

func msgSTKSent(d *domain.DepositRequest, wait time.Duration) string {
	return fmt.Sprintf("💳 STK push sent! Deposit ID: %s. We'll check the status in ~%s. Please wait...",
		d.ID, wait.Round(time.Second))
}

func msgBalance(u *domain.User) string {
	return fmt.Sprintf("💰 Your balance is %s.", FormatKsh(u.Balance))
}

func msgDepositNotFound(id string) string {
	return fmt.Sprintf("❌ No deposit found with ID: %s", id)
}

func msgDepositDetails(d *domain.DepositRequest, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 Deposit Status:\nID: %s\nAmount: %s\nStatus: %s\nTime: %s",
		d.ID, FormatKsh(d.Amount), statusLabel(d.Status), formatTime(d.CreatedAt, loc))
	if d.ProviderCode != nil {
		fmt.Fprintf(&b, "\nM-Pesa code: %s", *d.ProviderCode)
	}
	return b.String()
}

func msgAdminAlert(d *domain.DepositRequest, loc *time.Location) string {
	return fmt.Sprintf("🔔 Deposit Alert:\nUser: %s\nPhone: %s\nAmount: %s\nDeposit ID: %s\nStatus: %s\nTime: %s",
		d.OwnerID, d.MSISDN, FormatKsh(d.Amount), d.ID, statusLabel(d.Status), formatTime(d.CreatedAt, loc))
}

func msgConfirmed(d *domain.DepositRequest, balance *decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Your deposit (ID: %s) of %s has been confirmed", d.ID, FormatKsh(d.Amount))
	if d.ProviderCode != nil && *d.ProviderCode != "" {
		fmt.Fprintf(&b, " (M-Pesa code %s)", *d.ProviderCode)
	}
	b.WriteString(".")
	if balance != nil {
		fmt.Fprintf(&b, " New balance: %s.", FormatKsh(*balance))
	}
	return b.String()
}

func msgFailed(d *domain.DepositRequest) string {
	return fmt.Sprintf("❌ Your deposit (ID: %s) has failed. Please try again.", d.ID)
}

func msgStillPending(d *domain.DepositRequest, providerStatus string) string {
	return fmt.Sprintf("ℹ️ Your deposit (ID: %s) is still *%s*. Please check again later.", d.ID, providerStatus)
}

// statusLabel is the user-facing spelling of a status.
func statusLabel(s domain.DepositStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
