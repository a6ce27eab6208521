package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

const (
	// DefaultProofGrace is how long after the end date proofs are still accepted
	DefaultProofGrace = 24 * time.Hour

	// Challenges longer than this only accept proofs once they have ended
	longChallengeThreshold = 24 * time.Hour
)

// ProofOutcome reports the state of a proof after a submit, decide or vote.
// ParticipationStatus is authoritative for settlement: a proof left pending
// when finalize closed its participation stays pending.
type ProofOutcome struct {
	ProofID             int64                       `json:"proof_id"`
	ParticipationID     int64                       `json:"participation_id"`
	Status              storage.ProofStatus         `json:"status"`
	ParticipationStatus storage.ParticipationStatus `json:"participation_status"`
	Mode                storage.ValidationMode      `json:"mode"`
	ApproveCount        int                         `json:"approve_count,omitempty"`
	VetoCount           int                         `json:"veto_count,omitempty"`
	EligibleVoters      int                         `json:"eligible_voters,omitempty"`
	Quorum              int                         `json:"quorum,omitempty"`
	VotesNeeded         *int                        `json:"votes_needed,omitempty"`
}

// ProofService implements proof submission and validation
type ProofService struct {
	clock      clockwork.Clock
	grace      time.Duration
	notifier   Notifier
	strategies map[storage.ValidationMode]validationStrategy
}

// NewProofService creates a proof service. A nil notifier disables notifications.
func NewProofService(clock clockwork.Clock, grace time.Duration, notifier Notifier) *ProofService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ProofService{
		clock:    clock,
		grace:    grace,
		notifier: notifier,
		strategies: map[storage.ValidationMode]validationStrategy{
			storage.ValidationOrganizer: organizerStrategy{},
			storage.ValidationCommunity: communityStrategy{},
		},
	}
}

// SubmitProofInput is a proof submission by the participant
type SubmitProofInput struct {
	ParticipationID int64
	UserID          int64
	Content         string
	Value           *float64
	Confidence      *float64 // opaque authenticity signal, never used for decisions
}

// SubmitProof stores the single proof of a participation. On a duplicate
// submission the existing proof is returned with ErrDuplicateProof.
func (s *ProofService) SubmitProof(ctx context.Context, in SubmitProofInput) (*storage.Proof, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidProof)
	}

	var proof *storage.Proof
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := storage.GetParticipationByID(ctx, tx, in.ParticipationID)
		if err != nil {
			return err
		}
		if p.UserID != in.UserID {
			return fmt.Errorf("%w: participation belongs to another user", ErrForbidden)
		}

		if existing, err := storage.GetProofByParticipation(ctx, tx, p.ID); err == nil {
			proof = existing
			return ErrDuplicateProof
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if p.Status != storage.ParticipationActive {
			return fmt.Errorf("%w: participation is %s", ErrParticipationClosed, p.Status)
		}

		challenge, err := storage.GetChallengeByID(ctx, tx, p.ChallengeID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.checkSubmissionWindow(challenge, now); err != nil {
			return err
		}

		proof = &storage.Proof{
			ParticipationID: p.ID,
			Content:         content,
			Value:           in.Value,
			Confidence:      in.Confidence,
			SubmittedAt:     now,
			Status:          storage.ProofPending,
		}
		if err := storage.CreateProof(ctx, tx, proof); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return ErrDuplicateProof
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateProof) {
		return proof, err
	}
	if err != nil {
		logger.Debug(in.UserID, "proof_submit_failed", fmt.Sprintf("participation_id=%d error=%s", in.ParticipationID, err.Error()))
		return nil, err
	}

	logger.Info(in.UserID, "proof_submitted", fmt.Sprintf("participation_id=%d proof_id=%d", proof.ParticipationID, proof.ID))
	return proof, nil
}

func (s *ProofService) checkSubmissionWindow(c *storage.Challenge, now time.Time) error {
	if c.Status == storage.ChallengeStatusPending || now.Before(c.StartDate) {
		return fmt.Errorf("%w: challenge has not started", ErrChallengeNotEligible)
	}
	if now.After(c.EndDate.Add(s.grace)) {
		return fmt.Errorf("%w: proofs closed at %s", ErrDeadlineExceeded, c.EndDate.Add(s.grace).Format(time.RFC3339))
	}
	if c.EndDate.Sub(c.StartDate) > longChallengeThreshold && now.Before(c.EndDate) {
		return fmt.Errorf("%w: proofs open at %s", ErrChallengeNotEligible, c.EndDate.Format(time.RFC3339))
	}
	return nil
}

// SubmitFitnessResult records a result reported by a fitness integration.
// In organizer mode an achieved goal is approved through Decide on behalf
// of the organizer. Otherwise the proof is left pending.
func (s *ProofService) SubmitFitnessResult(ctx context.Context, participationID, userID int64, achieved bool, value float64) (*ProofOutcome, error) {
	proof, err := s.SubmitProof(ctx, SubmitProofInput{
		ParticipationID: participationID,
		UserID:          userID,
		Content:         fmt.Sprintf("fitness:%g achieved=%t", value, achieved),
		Value:           &value,
	})
	if err != nil {
		return nil, err
	}

	rc, err := loadResolutionContext(ctx, storage.DB(), proof.ID)
	if err != nil {
		return nil, err
	}
	if achieved && rc.challenge.ValidationMode == storage.ValidationOrganizer {
		return s.Decide(ctx, proof.ID, rc.challenge.CreatorID, storage.ProofApproved, "auto-approved from fitness data")
	}
	return s.strategies[rc.challenge.ValidationMode].outcome(ctx, storage.DB(), rc)
}

// Decide resolves a proof in organizer mode
func (s *ProofService) Decide(ctx context.Context, proofID, organizerID int64, decision storage.ProofStatus, comment string) (*ProofOutcome, error) {
	return s.resolve(ctx, proofID, action{
		kind:     actionDecide,
		actorID:  organizerID,
		decision: decision,
		comment:  strings.TrimSpace(comment),
	})
}

// Vote casts a community vote on a proof
func (s *ProofService) Vote(ctx context.Context, proofID, voterID int64, voteType storage.VoteType) (*ProofOutcome, error) {
	return s.resolve(ctx, proofID, action{
		kind:     actionVote,
		actorID:  voterID,
		voteType: voteType,
	})
}

// Status reports the current state of a proof, including the vote tally in community mode
func (s *ProofService) Status(ctx context.Context, proofID int64) (*ProofOutcome, error) {
	rc, err := loadResolutionContext(ctx, storage.DB(), proofID)
	if err != nil {
		return nil, err
	}
	return s.strategies[rc.challenge.ValidationMode].outcome(ctx, storage.DB(), rc)
}

func (s *ProofService) resolve(ctx context.Context, proofID int64, act action) (*ProofOutcome, error) {
	var out *ProofOutcome
	var rc *resolutionContext
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		rc, err = loadResolutionContext(ctx, tx, proofID)
		if err != nil {
			return err
		}
		rc.now = s.clock.Now()

		strategy, ok := s.strategies[rc.challenge.ValidationMode]
		if !ok {
			return fmt.Errorf("%w: unknown mode %q", ErrInvariantViolation, rc.challenge.ValidationMode)
		}
		out, err = strategy.apply(ctx, tx, rc, act)
		return err
	})

	// State errors carry the current outcome back to the caller
	if out != nil && (errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrDuplicateVote)) {
		return out, err
	}
	if err != nil {
		logger.Debug(act.actorID, "proof_action_failed", fmt.Sprintf("proof_id=%d action=%s error=%s", proofID, act.kind, err.Error()))
		return nil, err
	}

	if out.Status != storage.ProofPending {
		logger.Info(act.actorID, "proof_resolved", fmt.Sprintf("proof_id=%d status=%s participation_status=%s", proofID, out.Status, out.ParticipationStatus))
		s.notifier.ProofResolved(ctx, rc.participation.UserID, rc.challenge, out)
	}
	return out, nil
}
