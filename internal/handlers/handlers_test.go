package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"pactbot/internal/auth"
	"pactbot/internal/service"
	"pactbot/internal/storage"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	mux   *http.ServeMux
	clock interface {
		clockwork.Clock
		Advance(time.Duration)
	}
}

func setupTestDB(t *testing.T) {
	if err := storage.InitDB(":memory:"); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
}

func cleanupTestDB(t *testing.T) {
	storage.CloseDB()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	setupTestDB(t)
	t.Cleanup(func() { cleanupTestDB(t) })

	clock := clockwork.NewFakeClockAt(testStart)
	api := NewAPI(
		service.NewAccountService(10000),
		service.NewChallengeService(clock, decimal.RequireFromString("0.05"), decimal.RequireFromString("0.03")),
		service.NewParticipationService(clock),
		service.NewProofService(clock, service.DefaultProofGrace, nil),
		service.NewSettlementService(clock, nil),
	)
	mux := http.NewServeMux()
	api.Register(mux)
	return &testServer{mux: mux, clock: clock}
}

// do sends a request as the given Telegram user; telegramID 0 sends it unauthenticated
func (s *testServer) do(t *testing.T, method, path string, telegramID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if telegramID != 0 {
		req = req.WithContext(auth.ContextWithUser(context.Background(), &auth.TelegramUser{ID: telegramID, FirstName: "Tester"}))
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func (s *testServer) createChallenge(t *testing.T, telegramID int64, mode storage.ValidationMode) *storage.Challenge {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/challenges", telegramID, CreateChallengeRequest{
		Title:          "Walk 10k steps",
		MinBet:         500,
		StartDate:      testStart,
		EndDate:        testStart.Add(12 * time.Hour),
		ValidationMode: mode,
	})
	expectStatus(t, rr, http.StatusCreated)
	c := decode[storage.Challenge](t, rr)
	return &c
}

func (s *testServer) join(t *testing.T, challengeID, telegramID, bet int64) *storage.Participation {
	t.Helper()
	rr := s.do(t, http.MethodPost, pathf("/api/challenges/%d/join", challengeID), telegramID, JoinRequest{BetAmount: bet})
	expectStatus(t, rr, http.StatusCreated)
	p := decode[storage.Participation](t, rr)
	return &p
}

func (s *testServer) submitProof(t *testing.T, participationID, telegramID int64) *storage.Proof {
	t.Helper()
	rr := s.do(t, http.MethodPost, pathf("/api/participations/%d/proof", participationID), telegramID, SubmitProofRequest{Content: "step counter screenshot"})
	expectStatus(t, rr, http.StatusCreated)
	p := decode[storage.Proof](t, rr)
	return &p
}

func TestPingHandler(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/ping", 0, nil)
	expectStatus(t, rr, http.StatusOK)

	response := decode[map[string]string](t, rr)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestHandleMeUnauthorized(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/me", 0, nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestHandleMeRegistersUser(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/me", 12345, nil)
	expectStatus(t, rr, http.StatusOK)

	response := decode[UserResponse](t, rr)
	if response.TelegramID != 12345 {
		t.Errorf("Expected telegram_id 12345, got %d", response.TelegramID)
	}
	if response.Balance != 10000 || response.BalanceDisplay != "100.00" {
		t.Errorf("Expected welcome balance 10000 (100.00), got %d (%s)", response.Balance, response.BalanceDisplay)
	}
	if len(response.Transactions) != 1 || response.Transactions[0].SourceType != storage.SourceWelcomeBonus {
		t.Errorf("Expected a single welcome bonus transaction, got %+v", response.Transactions)
	}
}

func TestHandleDeposit(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/me/deposit", 12345, DepositRequest{Amount: 2500})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[DepositResponse](t, rr).NewBalance; got != 12500 {
		t.Errorf("Expected new balance 12500, got %d", got)
	}

	rr = s.do(t, http.MethodPost, "/api/me/deposit", 12345, DepositRequest{Amount: -1})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(t, http.MethodGet, "/api/me/transactions?limit=1", 12345, nil)
	expectStatus(t, rr, http.StatusOK)
	txs := decode[[]storage.Transaction](t, rr)
	if len(txs) != 1 || txs[0].SourceType != storage.SourceDeposit {
		t.Errorf("Expected latest transaction to be the deposit, got %+v", txs)
	}
}

func TestJoinErrors(t *testing.T) {
	s := newTestServer(t)
	c := s.createChallenge(t, 1, storage.ValidationOrganizer)

	tests := []struct {
		name       string
		path       string
		telegramID int64
		bet        int64
		want       int
	}{
		{"below minimum", pathf("/api/challenges/%d/join", c.ID), 2, 100, http.StatusBadRequest},
		{"own challenge", pathf("/api/challenges/%d/join", c.ID), 1, 1000, http.StatusBadRequest},
		{"insufficient funds", pathf("/api/challenges/%d/join", c.ID), 2, 50000, http.StatusPaymentRequired},
		{"unknown challenge", "/api/challenges/999/join", 2, 1000, http.StatusNotFound},
		{"bad id", "/api/challenges/abc/join", 2, 1000, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, tt.path, tt.telegramID, JoinRequest{BetAmount: tt.bet})
			expectStatus(t, rr, tt.want)
		})
	}
}

func TestOrganizerFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.createChallenge(t, 1, storage.ValidationOrganizer)
	winner := s.join(t, c.ID, 2, 2000)
	s.join(t, c.ID, 3, 3000)

	proof := s.submitProof(t, winner.ID, 2)

	rr := s.do(t, http.MethodPost, pathf("/api/participations/%d/proof", winner.ID), 2, SubmitProofRequest{Content: "again"})
	expectStatus(t, rr, http.StatusConflict)

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/decision", proof.ID), 3, DecisionRequest{Decision: storage.ProofApproved})
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/decision", proof.ID), 1, DecisionRequest{Decision: storage.ProofApproved})
	expectStatus(t, rr, http.StatusOK)
	if out := decode[service.ProofOutcome](t, rr); out.ParticipationStatus != storage.ParticipationWon {
		t.Errorf("Expected participation won, got %s", out.ParticipationStatus)
	}

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/decision", proof.ID), 1, DecisionRequest{Decision: storage.ProofRejected})
	expectStatus(t, rr, http.StatusConflict)

	rr = s.do(t, http.MethodGet, pathf("/api/challenges/%d/settlement/preview", c.ID), 2, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(t, http.MethodGet, pathf("/api/challenges/%d/settlement", c.ID), 2, nil)
	expectStatus(t, rr, http.StatusNotFound)

	// Too early, and only the creator may settle
	rr = s.do(t, http.MethodPost, pathf("/api/challenges/%d/distribute", c.ID), 1, nil)
	expectStatus(t, rr, http.StatusConflict)
	s.clock.Advance(13 * time.Hour)
	rr = s.do(t, http.MethodPost, pathf("/api/challenges/%d/distribute", c.ID), 2, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodPost, pathf("/api/challenges/%d/finalize", c.ID), 1, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[FinalizeResponse](t, rr).Closed; got != 1 {
		t.Errorf("Expected 1 participation closed, got %d", got)
	}

	rr = s.do(t, http.MethodPost, pathf("/api/challenges/%d/distribute", c.ID), 1, nil)
	expectStatus(t, rr, http.StatusOK)
	first := decode[DistributeResponse](t, rr)
	if first.Replayed {
		t.Error("First distribute must not be a replay")
	}
	if len(first.Result.Winners) != 1 || first.Result.Winners[0].EstimatedTotal != 2000+2850 {
		t.Errorf("Unexpected winners: %+v", first.Result.Winners)
	}

	rr = s.do(t, http.MethodPost, pathf("/api/challenges/%d/distribute", c.ID), 1, nil)
	expectStatus(t, rr, http.StatusOK)
	second := decode[DistributeResponse](t, rr)
	if !second.Replayed || second.ID != first.ID {
		t.Errorf("Expected replay of receipt %s, got %+v", first.ID, second)
	}

	rr = s.do(t, http.MethodGet, pathf("/api/challenges/%d/settlement", c.ID), 3, nil)
	expectStatus(t, rr, http.StatusOK)
	if stored := decode[service.Receipt](t, rr); stored.ID != first.ID {
		t.Errorf("Expected stored receipt %s, got %s", first.ID, stored.ID)
	}

	rr = s.do(t, http.MethodGet, "/api/me", 2, nil)
	if got := decode[UserResponse](t, rr).Balance; got != 10000-2000+4850 {
		t.Errorf("Expected winner balance %d, got %d", 10000-2000+4850, got)
	}
	rr = s.do(t, http.MethodGet, "/api/me", 3, nil)
	if got := decode[UserResponse](t, rr).Balance; got != 10000-3000 {
		t.Errorf("Expected loser balance %d, got %d", 10000-3000, got)
	}
}

func TestCommunityVoteOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.createChallenge(t, 1, storage.ValidationCommunity)
	p := s.join(t, c.ID, 2, 1000)
	s.join(t, c.ID, 3, 1000)
	s.join(t, c.ID, 4, 1000)
	proof := s.submitProof(t, p.ID, 2)

	rr := s.do(t, http.MethodPost, pathf("/api/proofs/%d/votes", proof.ID), 2, VoteRequest{VoteType: storage.VoteApprove})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/votes", proof.ID), 3, VoteRequest{VoteType: storage.VoteApprove})
	expectStatus(t, rr, http.StatusOK)
	out := decode[service.ProofOutcome](t, rr)
	if out.VotesNeeded == nil || *out.VotesNeeded != 1 {
		t.Errorf("Expected 1 vote needed, got %+v", out.VotesNeeded)
	}

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/votes", proof.ID), 3, VoteRequest{VoteType: storage.VoteApprove})
	expectStatus(t, rr, http.StatusConflict)

	rr = s.do(t, http.MethodPost, pathf("/api/proofs/%d/votes", proof.ID), 4, VoteRequest{VoteType: storage.VoteVeto})
	expectStatus(t, rr, http.StatusOK)
	if out := decode[service.ProofOutcome](t, rr); out.Status != storage.ProofRejected {
		t.Errorf("Expected veto to reject, got %s", out.Status)
	}

	rr = s.do(t, http.MethodGet, pathf("/api/proofs/%d", proof.ID), 0, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestGetChallenge(t *testing.T) {
	s := newTestServer(t)
	c := s.createChallenge(t, 1, storage.ValidationOrganizer)
	s.join(t, c.ID, 2, 700)

	rr := s.do(t, http.MethodGet, pathf("/api/challenges/%d", c.ID), 2, nil)
	expectStatus(t, rr, http.StatusOK)
	response := decode[ChallengeResponse](t, rr)
	if response.Challenge == nil || response.Title != "Walk 10k steps" {
		t.Errorf("Unexpected challenge: %+v", response.Challenge)
	}
	if len(response.Participations) != 1 || response.Participations[0].BetAmount != 700 {
		t.Errorf("Unexpected participations: %+v", response.Participations)
	}

	rr = s.do(t, http.MethodGet, "/api/challenges/404", 2, nil)
	expectStatus(t, rr, http.StatusNotFound)
}
