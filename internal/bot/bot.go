package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/telebot.v3"

	"pactbot/internal/logger"
	"pactbot/internal/service"
	"pactbot/internal/storage"
)

// Services are the operations the bot commands call
type Services struct {
	Accounts       *service.AccountService
	Challenges     *service.ChallengeService
	Participations *service.ParticipationService
	Proofs         *service.ProofService
	Settlements    *service.SettlementService
}

// Bot serves the Telegram commands
type Bot struct {
	tb        *telebot.Bot
	webAppURL string
	svc       Services
}

// command handles one bot command and returns the reply text
type command func(ctx context.Context, sender *telebot.User, args []string) (string, error)

// New wires the command handlers onto tb
func New(tb *telebot.Bot, webAppURL string, svc Services) *Bot {
	b := &Bot{tb: tb, webAppURL: webAppURL, svc: svc}

	tb.Handle("/start", b.handleStart)
	tb.Handle("/help", b.wrap("help", b.help))
	tb.Handle("/balance", b.wrap("balance", b.balance))
	tb.Handle("/join", b.wrap("join", b.join))
	tb.Handle("/proof", b.wrap("proof", b.proof))
	tb.Handle("/approve", b.wrap("approve", b.decide(storage.ProofApproved)))
	tb.Handle("/reject", b.wrap("reject", b.decide(storage.ProofRejected)))
	tb.Handle("/vote", b.wrap("vote", b.vote(storage.VoteApprove)))
	tb.Handle("/veto", b.wrap("veto", b.vote(storage.VoteVeto)))
	tb.Handle("/preview", b.wrap("preview", b.preview))
	tb.Handle("/settle", b.wrap("settle", b.settle))
	return b
}

// Start polls for updates until Stop is called
func (b *Bot) Start() {
	logger.Info(0, "bot_started", "username="+b.tb.Me.Username)
	b.tb.Start()
}

// Stop stops polling
func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) wrap(name string, cmd command) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		sender := c.Sender()
		logger.Debug(sender.ID, "command_"+name, strings.Join(c.Args(), " "))

		reply, err := cmd(context.Background(), sender, c.Args())
		if err != nil {
			reply = replyForError(sender.ID, name, err)
		}
		return c.Send(reply)
	}
}

func (b *Bot) handleStart(c telebot.Context) error {
	sender := c.Sender()
	logger.Debug(sender.ID, "command_start", fmt.Sprintf("username=%s first_name=%s", sender.Username, sender.FirstName))

	user, err := b.svc.Accounts.Register(context.Background(), sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		return c.Send(replyForError(sender.ID, "start", err))
	}

	welcome := fmt.Sprintf("Welcome to Pacts! 🤝\n\nHi, %s! You have %s.\n\nStake money on your goals, prove you did it, and split the pot with everyone else who made it.",
		user.FirstName, formatAmount(user.Balance))
	if b.webAppURL == "" {
		return c.Send(welcome)
	}

	btn := telebot.InlineButton{
		Text:   "🎯 Open Pacts",
		WebApp: &telebot.WebApp{URL: b.webAppURL},
	}
	return c.Send(welcome, &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{{btn}},
	})
}

func (b *Bot) help(context.Context, *telebot.User, []string) (string, error) {
	return "📚 Available Commands\n\n" +
		"/start - Create your account and receive your welcome bonus\n" +
		"/balance - Check your current balance\n" +
		"/join <challenge> <amount> - Stake on a challenge\n" +
		"/proof <participation> <text> - Submit your proof\n" +
		"/approve <proof> - Approve a proof (organizer)\n" +
		"/reject <proof> [comment] - Reject a proof (organizer)\n" +
		"/vote <proof> - Approve a proof (community)\n" +
		"/veto <proof> - Veto a proof (community)\n" +
		"/preview <challenge> - Show the expected payout\n" +
		"/settle <challenge> - Distribute the pot (organizer)\n" +
		"/help - Show this help message", nil
}

func (b *Bot) user(ctx context.Context, sender *telebot.User) (*storage.User, error) {
	return b.svc.Accounts.Register(ctx, sender.ID, sender.Username, sender.FirstName)
}

func (b *Bot) balance(ctx context.Context, sender *telebot.User, _ []string) (string, error) {
	user, err := b.user(ctx, sender)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("💰 Your Balance\n\nCurrent Balance: %s", formatAmount(user.Balance)), nil
}

func (b *Bot) join(ctx context.Context, sender *telebot.User, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /join <challenge> <amount>", nil
	}
	challengeID, ok := parseID(args[0])
	if !ok {
		return "Invalid challenge id.", nil
	}
	amount, ok := parseAmount(args[1])
	if !ok {
		return "Invalid amount. Use a number like 10 or 12.50.", nil
	}

	user, err := b.user(ctx, sender)
	if err != nil {
		return "", err
	}
	p, err := b.svc.Participations.Join(ctx, challengeID, user.ID, amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ You joined challenge #%d with %s.\n\nYour participation id is %d. Use /proof %d <text> to submit your proof.",
		challengeID, formatAmount(p.BetAmount), p.ID, p.ID), nil
}

func (b *Bot) proof(ctx context.Context, sender *telebot.User, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: /proof <participation> <text>", nil
	}
	participationID, ok := parseID(args[0])
	if !ok {
		return "Invalid participation id.", nil
	}

	user, err := b.user(ctx, sender)
	if err != nil {
		return "", err
	}
	proof, err := b.svc.Proofs.SubmitProof(ctx, service.SubmitProofInput{
		ParticipationID: participationID,
		UserID:          user.ID,
		Content:         strings.Join(args[1:], " "),
	})
	if errors.Is(err, service.ErrDuplicateProof) && proof != nil {
		return fmt.Sprintf("You already submitted proof #%d. It is %s.", proof.ID, proof.Status), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📨 Proof #%d submitted and waiting for validation.", proof.ID), nil
}

func (b *Bot) decide(decision storage.ProofStatus) command {
	return func(ctx context.Context, sender *telebot.User, args []string) (string, error) {
		if len(args) < 1 {
			return fmt.Sprintf("Usage: /%s <proof>", verb(decision)), nil
		}
		proofID, ok := parseID(args[0])
		if !ok {
			return "Invalid proof id.", nil
		}

		user, err := b.user(ctx, sender)
		if err != nil {
			return "", err
		}
		out, err := b.svc.Proofs.Decide(ctx, proofID, user.ID, decision, strings.Join(args[1:], " "))
		if errors.Is(err, service.ErrAlreadyDecided) && out != nil {
			return fmt.Sprintf("Proof #%d was already %s.", proofID, out.Status), nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Proof #%d %s. The participant has %s.", proofID, out.Status, out.ParticipationStatus), nil
	}
}

func verb(decision storage.ProofStatus) string {
	if decision == storage.ProofApproved {
		return "approve"
	}
	return "reject"
}

func (b *Bot) vote(voteType storage.VoteType) command {
	return func(ctx context.Context, sender *telebot.User, args []string) (string, error) {
		if len(args) != 1 {
			if voteType == storage.VoteVeto {
				return "Usage: /veto <proof>", nil
			}
			return "Usage: /vote <proof>", nil
		}
		proofID, ok := parseID(args[0])
		if !ok {
			return "Invalid proof id.", nil
		}

		user, err := b.user(ctx, sender)
		if err != nil {
			return "", err
		}
		out, err := b.svc.Proofs.Vote(ctx, proofID, user.ID, voteType)
		switch {
		case errors.Is(err, service.ErrDuplicateVote) && out != nil:
			return fmt.Sprintf("You already voted on proof #%d.", proofID), nil
		case errors.Is(err, service.ErrAlreadyResolved) && out != nil:
			return fmt.Sprintf("Proof #%d is already %s.", proofID, out.Status), nil
		case err != nil:
			return "", err
		}

		if out.Status != storage.ProofPending {
			return fmt.Sprintf("🗳 Vote recorded. Proof #%d is %s.", proofID, out.Status), nil
		}
		return fmt.Sprintf("🗳 Vote recorded. %d more approval(s) needed.", *out.VotesNeeded), nil
	}
}

func (b *Bot) preview(ctx context.Context, _ *telebot.User, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /preview <challenge>", nil
	}
	challengeID, ok := parseID(args[0])
	if !ok {
		return "Invalid challenge id.", nil
	}

	result, err := b.svc.Settlements.PreviewDistribution(ctx, challengeID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fin := result.Financials
	fmt.Fprintf(&sb, "📊 Challenge #%d preview\n\n", challengeID)
	fmt.Fprintf(&sb, "Winners: %d, losers: %d, undecided: %d\n", result.Status.Winners, result.Status.Losers, result.Status.Active)
	fmt.Fprintf(&sb, "Losers pot: %s\nCommission: %s\nTo distribute: %s\n", formatAmount(fin.LosersPot), formatAmount(fin.Commission), formatAmount(fin.DistributablePot))
	for _, w := range result.Winners {
		fmt.Fprintf(&sb, "\n#%d: stake %s, payout %s (+%s)", w.ParticipationID, formatAmount(w.BetAmount), formatAmount(w.EstimatedTotal), formatAmount(w.EstimatedEarnings))
	}
	return sb.String(), nil
}

func (b *Bot) settle(ctx context.Context, sender *telebot.User, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /settle <challenge>", nil
	}
	challengeID, ok := parseID(args[0])
	if !ok {
		return "Invalid challenge id.", nil
	}

	user, err := b.user(ctx, sender)
	if err != nil {
		return "", err
	}
	c, err := b.svc.Challenges.Get(ctx, challengeID)
	if err != nil {
		return "", err
	}
	if c.CreatorID != user.ID {
		return "", service.ErrForbidden
	}

	receipt, err := b.svc.Settlements.Distribute(ctx, challengeID)
	if errors.Is(err, service.ErrAlreadyDistributed) {
		return fmt.Sprintf("Challenge #%d was already settled (receipt %s).", challengeID, receipt.ID), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🏁 Challenge #%d settled. %d winner(s) paid. Receipt %s.", challengeID, receipt.Result.Status.Winners, receipt.ID), nil
}

// replyForError turns a service error into a user-facing message
func replyForError(telegramID int64, command string, err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "Not found. Check the id and try again."
	case errors.Is(err, service.ErrInsufficientFunds):
		return "💸 Insufficient funds. Deposit more in the app and try again."
	case errors.Is(err, service.ErrForbidden):
		return "⛔ You are not allowed to do that."
	case errors.Is(err, service.ErrInvalidJoin),
		errors.Is(err, service.ErrDeadlineExceeded),
		errors.Is(err, service.ErrChallengeNotEligible),
		errors.Is(err, service.ErrSelfVote),
		errors.Is(err, service.ErrWrongMode),
		errors.Is(err, service.ErrInvalidProof),
		errors.Is(err, service.ErrChallengeNotEnded),
		errors.Is(err, service.ErrParticipationClosed),
		errors.Is(err, service.ErrInvalidDecision),
		errors.Is(err, service.ErrDuplicateVote):
		return "⚠️ " + err.Error()
	case errors.Is(err, service.ErrAlreadyResolved):
		return "This proof has already been resolved."
	}
	logger.Error(telegramID, "command_"+command+"_failed", err, "")
	return "Something went wrong. Please try again."
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	return id, err == nil && id > 0
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// parseAmount converts a currency amount such as "12.50" to cents
func parseAmount(s string) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) || cents.GreaterThan(maxAmount) {
		return 0, false
	}
	return cents.IntPart(), true
}

// formatAmount formats cents as a currency amount
func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
