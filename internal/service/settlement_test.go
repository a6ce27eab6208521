package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pactbot/internal/storage"
)

// settledScenario builds the reference example: two winners staking 2000
// and 3000, a rejected loser staking 6000 and a silent participant staking
// 4000 who is closed as lost on finalize. Losers pot is 10000 at 5%.
type settledScenario struct {
	challenge                   *storage.Challenge
	alice, bob, carol, dave     *storage.User
	pAlice, pBob, pCarol, pDave *storage.Participation
}

func newSettledScenario(t *testing.T, f *fixture) *settledScenario {
	t.Helper()
	s := &settledScenario{}
	creator := f.user(t, 1)
	s.alice = f.user(t, 2)
	s.bob = f.user(t, 3)
	s.carol = f.user(t, 4)
	s.dave = f.user(t, 5)
	s.challenge = f.challenge(t, creator.ID, 12*time.Hour, storage.ValidationOrganizer)

	s.pAlice = f.join(t, s.challenge.ID, s.alice.ID, 2000)
	s.pBob = f.join(t, s.challenge.ID, s.bob.ID, 3000)
	s.pCarol = f.join(t, s.challenge.ID, s.carol.ID, 6000)
	s.pDave = f.join(t, s.challenge.ID, s.dave.ID, 4000)

	ctx := context.Background()
	decide := func(p *storage.Participation, d storage.ProofStatus) {
		proof := f.submit(t, p)
		if _, err := f.proofs.Decide(ctx, proof.ID, creator.ID, d, ""); err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
	}
	decide(s.pAlice, storage.ProofApproved)
	decide(s.pBob, storage.ProofApproved)
	decide(s.pCarol, storage.ProofRejected)
	return s
}

func countSource(t *testing.T, userID int64, source storage.TransactionSource) int {
	t.Helper()
	txs, err := storage.ListTransactions(context.Background(), storage.DB(), userID, 100)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	n := 0
	for _, tx := range txs {
		if tx.SourceType == source {
			n++
		}
	}
	return n
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	s := newSettledScenario(t, f)
	ctx := context.Background()

	if _, err := f.settlements.Finalize(ctx, s.challenge.ID); !errors.Is(err, ErrChallengeNotEnded) {
		t.Fatalf("Expected ErrChallengeNotEnded, got %v", err)
	}

	f.clock.Advance(12 * time.Hour)
	closed, err := f.settlements.Finalize(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 participation closed, got %d", closed)
	}
	if got := participationStatus(t, s.pDave.ID); got != storage.ParticipationLost {
		t.Errorf("Expected silent participant lost, got %s", got)
	}
	if got := participationStatus(t, s.pAlice.ID); got != storage.ParticipationWon {
		t.Errorf("Expected winner untouched, got %s", got)
	}

	closed, err = f.settlements.Finalize(ctx, s.challenge.ID)
	if err != nil || closed != 0 {
		t.Errorf("Expected second finalize to be a no-op, got %d, %v", closed, err)
	}
}

func TestDistribute(t *testing.T) {
	f := newFixture(t)
	s := newSettledScenario(t, f)
	ctx := context.Background()

	if _, err := f.settlements.Distribute(ctx, s.challenge.ID); !errors.Is(err, ErrChallengeNotEnded) {
		t.Fatalf("Expected ErrChallengeNotEnded, got %v", err)
	}

	f.clock.Advance(12*time.Hour + time.Minute)
	receipt, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}

	fin := receipt.Result.Financials
	if fin.LosersPot != 10000 || fin.Commission != 500 || fin.DistributablePot != 9500 || fin.Retained != 0 {
		t.Errorf("Unexpected financials: %+v", fin)
	}
	if receipt.Result.Status.Winners != 2 || receipt.Result.Status.Losers != 2 {
		t.Errorf("Unexpected status counts: %+v", receipt.Result.Status)
	}

	expected := map[int64]int64{
		s.alice.ID: testWelcomeBonus - 2000 + 5800,
		s.bob.ID:   testWelcomeBonus - 3000 + 8700,
		s.carol.ID: testWelcomeBonus - 6000,
		s.dave.ID:  testWelcomeBonus - 4000,
	}
	for userID, want := range expected {
		if got := balance(t, userID); got != want {
			t.Errorf("User %d: expected balance %d, got %d", userID, want, got)
		}
	}

	c, err := f.challenges.Get(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Status != storage.ChallengeStatusCompleted {
		t.Errorf("Expected completed challenge, got %s", c.Status)
	}
	if len(f.notifier.settled) != 1 {
		t.Errorf("Expected 1 settlement notification, got %d", len(f.notifier.settled))
	}
}

func TestDistributeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := newSettledScenario(t, f)
	ctx := context.Background()
	f.clock.Advance(13 * time.Hour)

	first, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	aliceAfter := balance(t, s.alice.ID)

	second, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if !errors.Is(err, ErrAlreadyDistributed) {
		t.Fatalf("Expected ErrAlreadyDistributed, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected receipt %s, got %s", first.ID, second.ID)
	}
	if !bytes.Equal(mustJSON(t, first.Result), mustJSON(t, second.Result)) {
		t.Errorf("Replayed result differs:\n%s\n%s", mustJSON(t, first.Result), mustJSON(t, second.Result))
	}
	if got := balance(t, s.alice.ID); got != aliceAfter {
		t.Errorf("Balance changed on replay: %d -> %d", aliceAfter, got)
	}
	if n := countSource(t, s.alice.ID, storage.SourcePayout); n != 1 {
		t.Errorf("Expected 1 payout transaction, got %d", n)
	}

	stored, err := f.settlements.Receipt(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Receipt failed: %v", err)
	}
	if stored.ID != first.ID {
		t.Errorf("Expected stored receipt %s, got %s", first.ID, stored.ID)
	}
}

func TestDistributeReplayInLocalZone(t *testing.T) {
	f := newFixtureAt(t, testStart.In(time.FixedZone("UTC+3", 3*60*60)))
	s := newSettledScenario(t, f)
	ctx := context.Background()
	f.clock.Advance(13 * time.Hour)

	first, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	second, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if !errors.Is(err, ErrAlreadyDistributed) {
		t.Fatalf("Expected ErrAlreadyDistributed, got %v", err)
	}
	if !bytes.Equal(mustJSON(t, first), mustJSON(t, second)) {
		t.Errorf("Replayed receipt differs:\n%s\n%s", mustJSON(t, first), mustJSON(t, second))
	}
}

func TestConcurrentDistribute(t *testing.T) {
	f := newFixture(t)
	s := newSettledScenario(t, f)
	ctx := context.Background()
	f.clock.Advance(13 * time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid, replayed := 0, 0
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := f.settlements.Distribute(ctx, s.challenge.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, ErrAlreadyDistributed):
				replayed++
			default:
				t.Errorf("Unexpected error: %v", err)
				return
			}
			ids[receipt.ID] = true
		}()
	}
	wg.Wait()

	if paid != 1 || replayed != 7 {
		t.Errorf("Expected 1 payout and 7 replays, got %d and %d", paid, replayed)
	}
	if len(ids) != 1 {
		t.Errorf("Expected a single receipt, got %d", len(ids))
	}
	if got := balance(t, s.bob.ID); got != testWelcomeBonus-3000+8700 {
		t.Errorf("Expected bob credited once, balance %d", got)
	}
}

func TestPreviewMatchesDistribution(t *testing.T) {
	f := newFixture(t)
	s := newSettledScenario(t, f)
	ctx := context.Background()

	preview, err := f.settlements.PreviewDistribution(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("PreviewDistribution failed: %v", err)
	}
	if !preview.Preview {
		t.Error("Expected preview flag")
	}
	if preview.Status.Active != 1 {
		t.Errorf("Expected 1 active participation in preview, got %d", preview.Status.Active)
	}
	if got := participationStatus(t, s.pDave.ID); got != storage.ParticipationActive {
		t.Errorf("Preview must not change participations, got %s", got)
	}
	if got := balance(t, s.alice.ID); got != testWelcomeBonus-2000 {
		t.Errorf("Preview must not move money, balance %d", got)
	}

	f.clock.Advance(13 * time.Hour)
	receipt, err := f.settlements.Distribute(ctx, s.challenge.ID)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}

	if !bytes.Equal(mustJSON(t, preview.Financials), mustJSON(t, receipt.Result.Financials)) {
		t.Errorf("Financials differ:\npreview %s\nfinal   %s", mustJSON(t, preview.Financials), mustJSON(t, receipt.Result.Financials))
	}
	if !bytes.Equal(mustJSON(t, preview.Winners), mustJSON(t, receipt.Result.Winners)) {
		t.Errorf("Winner payouts differ:\npreview %s\nfinal   %s", mustJSON(t, preview.Winners), mustJSON(t, receipt.Result.Winners))
	}
}

func TestDistributeWithoutWinners(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, 1)
	alice := f.user(t, 2)
	bob := f.user(t, 3)
	c := f.challenge(t, creator.ID, 12*time.Hour, storage.ValidationOrganizer)
	f.join(t, c.ID, alice.ID, 1000)
	f.join(t, c.ID, bob.ID, 3000)
	ctx := context.Background()

	f.clock.Advance(13 * time.Hour)
	receipt, err := f.settlements.Distribute(ctx, c.ID)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}

	fin := receipt.Result.Financials
	if fin.LosersPot != 4000 || fin.Commission != 200 || fin.Retained != 3800 {
		t.Errorf("Unexpected financials: %+v", fin)
	}
	if len(receipt.Result.Winners) != 0 {
		t.Errorf("Expected no winners, got %d", len(receipt.Result.Winners))
	}
	if got := balance(t, alice.ID); got != testWelcomeBonus-1000 {
		t.Errorf("Expected loser balance unchanged after stake, got %d", got)
	}
}

func TestDistributeUnknownChallenge(t *testing.T) {
	f := newFixture(t)

	if _, err := f.settlements.Distribute(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
