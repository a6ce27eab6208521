package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"pactbot/internal/storage"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testWelcomeBonus = 10000

type testClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	clock          testClock
	challenges     *ChallengeService
	participations *ParticipationService
	proofs         *ProofService
	settlements    *SettlementService
	notifier       *recordingNotifier
}

func setupTestDB(t *testing.T) {
	// Use in-memory database for tests
	if err := storage.InitDB(":memory:"); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
}

func cleanupTestDB(t *testing.T) {
	storage.CloseDB()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, testStart)
}

func newFixtureAt(t *testing.T, start time.Time) *fixture {
	t.Helper()
	setupTestDB(t)
	t.Cleanup(func() { cleanupTestDB(t) })

	clock := clockwork.NewFakeClockAt(start)
	notifier := &recordingNotifier{}
	return &fixture{
		clock:          clock,
		challenges:     NewChallengeService(clock, decimal.RequireFromString("0.05"), decimal.RequireFromString("0.03")),
		participations: NewParticipationService(clock),
		proofs:         NewProofService(clock, DefaultProofGrace, notifier),
		settlements:    NewSettlementService(clock, notifier),
		notifier:       notifier,
	}
}

func (f *fixture) user(t *testing.T, telegramID int64) *storage.User {
	t.Helper()
	u, err := storage.CreateUser(context.Background(), telegramID, "user", "User", testWelcomeBonus)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return u
}

func (f *fixture) challenge(t *testing.T, creatorID int64, duration time.Duration, mode storage.ValidationMode) *storage.Challenge {
	t.Helper()
	c, err := f.challenges.Create(context.Background(), CreateChallengeInput{
		CreatorID:      creatorID,
		Title:          "No sugar for a week",
		MinBet:         500,
		StartDate:      f.clock.Now(),
		EndDate:        f.clock.Now().Add(duration),
		ValidationMode: mode,
	})
	if err != nil {
		t.Fatalf("Failed to create challenge: %v", err)
	}
	return c
}

func (f *fixture) join(t *testing.T, challengeID, userID, bet int64) *storage.Participation {
	t.Helper()
	p, err := f.participations.Join(context.Background(), challengeID, userID, bet)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return p
}

func (f *fixture) submit(t *testing.T, p *storage.Participation) *storage.Proof {
	t.Helper()
	proof, err := f.proofs.SubmitProof(context.Background(), SubmitProofInput{
		ParticipationID: p.ID,
		UserID:          p.UserID,
		Content:         "photo of the empty fridge",
	})
	if err != nil {
		t.Fatalf("SubmitProof failed: %v", err)
	}
	return proof
}

func balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := storage.GetBalance(context.Background(), storage.DB(), userID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	return b
}

func proofStatus(t *testing.T, id int64) storage.ProofStatus {
	t.Helper()
	p, err := storage.GetProofByID(context.Background(), storage.DB(), id)
	if err != nil {
		t.Fatalf("GetProofByID failed: %v", err)
	}
	return p.Status
}

func participationStatus(t *testing.T, id int64) storage.ParticipationStatus {
	t.Helper()
	p, err := storage.GetParticipationByID(context.Background(), storage.DB(), id)
	if err != nil {
		t.Fatalf("GetParticipationByID failed: %v", err)
	}
	return p.Status
}

type recordingNotifier struct {
	mu       sync.Mutex
	resolved []*ProofOutcome
	settled  []*Receipt
}

func (n *recordingNotifier) ProofResolved(_ context.Context, _ int64, _ *storage.Challenge, out *ProofOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, out)
}

func (n *recordingNotifier) ChallengeSettled(_ context.Context, _ *storage.Challenge, receipt *Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, receipt)
}
