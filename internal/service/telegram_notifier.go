package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"pactbot/internal/logger"
	"pactbot/internal/storage"

	"gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot the notifier needs
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramNotifier sends direct messages to participants and publishes
// settlement summaries to an optional channel
type TelegramNotifier struct {
	sender    Sender
	mu        sync.Mutex
	channelID string
}

// NewTelegramNotifier creates a notifier. An empty channelID disables channel broadcasts.
func NewTelegramNotifier(sender Sender, channelID string) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, channelID: channelID}
}

// formatAmount formats cents as a currency amount
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ProofResolved tells the participant how their proof was judged
func (n *TelegramNotifier) ProofResolved(ctx context.Context, userID int64, challenge *storage.Challenge, out *ProofOutcome) {
	if challenge == nil || out == nil {
		return
	}

	var message string
	switch out.Status {
	case storage.ProofApproved:
		message = fmt.Sprintf("✅ Your proof for challenge #%d %s was approved.\n\nYou will share the pot once the challenge is settled.",
			challenge.ID, truncateString(challenge.Title, 50))
	case storage.ProofRejected:
		message = fmt.Sprintf("❌ Your proof for challenge #%d %s was rejected.\n\nYour stake goes to the pot.",
			challenge.ID, truncateString(challenge.Title, 50))
	default:
		return
	}

	n.sendToUser(ctx, userID, message, "proof_notification_sent", fmt.Sprintf("proof_id=%d status=%s", out.ProofID, out.Status))
}

// ChallengeSettled tells each paid participant what they received and
// publishes a summary to the channel
func (n *TelegramNotifier) ChallengeSettled(ctx context.Context, challenge *storage.Challenge, receipt *Receipt) {
	if challenge == nil || receipt == nil || receipt.Result == nil {
		return
	}

	for _, w := range receipt.Result.Winners {
		message := fmt.Sprintf("🏆 Challenge #%d %s is settled\n\nYour stake: %s\nPayout: %s\nEarnings: %s",
			challenge.ID,
			truncateString(challenge.Title, 50),
			formatAmount(w.BetAmount),
			formatAmount(w.EstimatedTotal),
			formatAmount(w.EstimatedEarnings))
		n.sendToUser(ctx, w.UserID, message, "win_notification_sent", fmt.Sprintf("challenge_id=%d payout=%d", challenge.ID, w.EstimatedTotal))
	}
	for _, r := range receipt.Result.Refunds {
		message := fmt.Sprintf("💰 Challenge #%d %s is settled. Your stake of %s has been returned.",
			challenge.ID, truncateString(challenge.Title, 50), formatAmount(r.Amount))
		n.sendToUser(ctx, r.UserID, message, "refund_notification_sent", fmt.Sprintf("challenge_id=%d amount=%d", challenge.ID, r.Amount))
	}

	n.publishSettlement(challenge, receipt)
}

func (n *TelegramNotifier) sendToUser(ctx context.Context, userID int64, message, action, details string) {
	user, err := storage.GetUserByID(ctx, storage.DB(), userID)
	if err != nil || user.TelegramID == 0 {
		logger.Debug(userID, "notification_error", "failed to get telegram id for user")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.sender.Send(&telebot.User{ID: user.TelegramID}, message); err != nil {
		logger.Debug(userID, "notification_error", fmt.Sprintf("action=%s error=%v", action, err))
		log.Printf("Failed to send notification to user %d: %v", user.TelegramID, err)
		return
	}
	logger.Debug(userID, action, details)
}

func (n *TelegramNotifier) publishSettlement(challenge *storage.Challenge, receipt *Receipt) {
	if n.channelID == "" {
		logger.Debug(0, "broadcast_skipped", "CHANNEL_ID not configured")
		return
	}

	fin := receipt.Result.Financials
	var paid int64
	for _, w := range receipt.Result.Winners {
		paid += w.EstimatedTotal
	}

	message := fmt.Sprintf("🏁 *Challenge Settled*\n\n*#%d* %s\n\n🏆 Winners: %d\n📉 Losers: %d\n💰 Losers pot: %s\n💸 Paid to winners: %s",
		challenge.ID,
		escapeMarkdown(truncateString(challenge.Title, 80)),
		receipt.Result.Status.Winners,
		receipt.Result.Status.Losers,
		escapeMarkdown(formatAmount(fin.LosersPot)),
		escapeMarkdown(formatAmount(paid)))

	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := n.sender.Send(n.channelRecipient(), message, &telebot.SendOptions{
		ParseMode: telebot.ModeMarkdownV2,
	})
	if err != nil {
		logger.Debug(0, "broadcast_error", fmt.Sprintf("channel=%s error=%v", n.channelID, err))
		return
	}
	logger.Debug(0, "broadcast_settlement", fmt.Sprintf("challenge_id=%d receipt_id=%s channel=%s", challenge.ID, receipt.ID, n.channelID))
}

// channelName addresses a public channel by its @username
type channelName string

func (c channelName) Recipient() string { return string(c) }

// channelRecipient returns the recipient for the configured channel
func (n *TelegramNotifier) channelRecipient() telebot.Recipient {
	if strings.HasPrefix(n.channelID, "@") {
		return channelName(n.channelID)
	}
	return &telebot.Chat{ID: parseChannelID(n.channelID)}
}

// parseChannelID parses a numeric channel ID, returning 0 for usernames
func parseChannelID(channelID string) int64 {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// truncateString truncates a string to maxLen runes and adds ellipsis if needed
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxLen-3])) + "..."
}

// escapeMarkdown escapes the MarkdownV2 special characters
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\_*[]()~`+"`"+`>#+-=|{}.!`, r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
