package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

type actionKind string

const (
	actionDecide actionKind = "decide"
	actionVote   actionKind = "vote"
)

type action struct {
	kind     actionKind
	actorID  int64
	decision storage.ProofStatus
	voteType storage.VoteType
	comment  string
}

type resolutionContext struct {
	proof         *storage.Proof
	participation *storage.Participation
	challenge     *storage.Challenge
	now           time.Time
}

func loadResolutionContext(ctx context.Context, q storage.Querier, proofID int64) (*resolutionContext, error) {
	proof, err := storage.GetProofByID(ctx, q, proofID)
	if err != nil {
		return nil, err
	}
	p, err := storage.GetParticipationByID(ctx, q, proof.ParticipationID)
	if err != nil {
		return nil, err
	}
	c, err := storage.GetChallengeByID(ctx, q, p.ChallengeID)
	if err != nil {
		return nil, err
	}
	return &resolutionContext{proof: proof, participation: p, challenge: c}, nil
}

// validationStrategy resolves proofs for one validation mode. Both modes
// finish through resolveProof, so settlement never needs to know which
// mode produced a won or lost participation.
type validationStrategy interface {
	apply(ctx context.Context, q storage.Querier, rc *resolutionContext, act action) (*ProofOutcome, error)
	outcome(ctx context.Context, q storage.Querier, rc *resolutionContext) (*ProofOutcome, error)
}

// resolveProof sets the proof resolution and the matching participation
// status in the caller's transaction. Both writes are check-and-set, so a
// concurrent finalize that already closed the participation wins.
func resolveProof(ctx context.Context, q storage.Querier, rc *resolutionContext, status storage.ProofStatus, decidedBy int64, comment string) error {
	ok, err := storage.ResolveProof(ctx, q, rc.proof.ID, status, decidedBy, comment, rc.now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyResolved
	}

	to := storage.ParticipationLost
	if status == storage.ProofApproved {
		to = storage.ParticipationWon
	}
	ok, err = storage.TransitionParticipation(ctx, q, rc.participation.ID, storage.ParticipationActive, to, rc.now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: participation %d was closed before the proof resolved", ErrParticipationClosed, rc.participation.ID)
	}

	rc.proof.Status = status
	rc.participation.Status = to
	return nil
}

// requireOpen rejects actions on a pending proof whose participation was
// already closed by finalize
func requireOpen(rc *resolutionContext) error {
	if rc.participation.Status != storage.ParticipationActive {
		return fmt.Errorf("%w: participation %d is %s", ErrParticipationClosed, rc.participation.ID, rc.participation.Status)
	}
	return nil
}

type organizerStrategy struct{}

func (organizerStrategy) apply(ctx context.Context, q storage.Querier, rc *resolutionContext, act action) (*ProofOutcome, error) {
	if act.kind != actionDecide {
		return nil, fmt.Errorf("%w: challenge uses organizer validation", ErrWrongMode)
	}
	if act.actorID != rc.challenge.CreatorID {
		return nil, fmt.Errorf("%w: only the organizer can decide", ErrForbidden)
	}
	if act.decision != storage.ProofApproved && act.decision != storage.ProofRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, act.decision)
	}

	if rc.proof.Status != storage.ProofPending {
		out, _ := organizerStrategy{}.outcome(ctx, q, rc)
		return out, ErrAlreadyDecided
	}

	if err := requireOpen(rc); err != nil {
		return nil, err
	}

	if err := resolveProof(ctx, q, rc, act.decision, act.actorID, act.comment); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}
	return organizerStrategy{}.outcome(ctx, q, rc)
}

func (organizerStrategy) outcome(_ context.Context, _ storage.Querier, rc *resolutionContext) (*ProofOutcome, error) {
	return &ProofOutcome{
		ProofID:             rc.proof.ID,
		ParticipationID:     rc.participation.ID,
		Status:              rc.proof.Status,
		ParticipationStatus: rc.participation.Status,
		Mode:                storage.ValidationOrganizer,
	}, nil
}

type communityStrategy struct{}

// quorum is a majority of the eligible voters, at least one
func quorum(eligible int) int {
	q := (eligible + 1) / 2
	if q < 1 {
		q = 1
	}
	return q
}

func (communityStrategy) apply(ctx context.Context, q storage.Querier, rc *resolutionContext, act action) (*ProofOutcome, error) {
	if act.kind != actionVote {
		return nil, fmt.Errorf("%w: challenge uses community validation", ErrWrongMode)
	}
	if act.voteType != storage.VoteApprove && act.voteType != storage.VoteVeto {
		return nil, fmt.Errorf("%w: unknown vote type %q", ErrInvalidDecision, act.voteType)
	}
	if act.actorID == rc.participation.UserID {
		return nil, ErrSelfVote
	}
	if act.actorID != rc.challenge.CreatorID {
		if _, err := storage.GetParticipation(ctx, q, rc.challenge.ID, act.actorID); errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: voter is not part of this challenge", ErrForbidden)
		} else if err != nil {
			return nil, err
		}
	}

	if rc.proof.Status != storage.ProofPending {
		out, err := communityStrategy{}.outcome(ctx, q, rc)
		if err != nil {
			return nil, err
		}
		return out, ErrAlreadyResolved
	}

	if err := requireOpen(rc); err != nil {
		return nil, err
	}

	err := storage.InsertVote(ctx, q, &storage.Vote{
		ProofID:   rc.proof.ID,
		VoterID:   act.actorID,
		VoteType:  act.voteType,
		CreatedAt: rc.now,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		out, err := communityStrategy{}.outcome(ctx, q, rc)
		if err != nil {
			return nil, err
		}
		return out, ErrDuplicateVote
	}
	if err != nil {
		return nil, err
	}
	logger.Debug(act.actorID, "vote_cast", fmt.Sprintf("proof_id=%d vote=%s", rc.proof.ID, act.voteType))

	out, err := communityStrategy{}.outcome(ctx, q, rc)
	if err != nil {
		return nil, err
	}

	var resolution storage.ProofStatus
	switch {
	case out.VetoCount > 0:
		resolution = storage.ProofRejected
	case out.ApproveCount >= out.Quorum:
		resolution = storage.ProofApproved
	default:
		return out, nil
	}

	if err := resolveProof(ctx, q, rc, resolution, act.actorID, ""); err != nil {
		return nil, err
	}
	return communityStrategy{}.outcome(ctx, q, rc)
}

// outcome recomputes the tally from the current participant list
func (communityStrategy) outcome(ctx context.Context, q storage.Querier, rc *resolutionContext) (*ProofOutcome, error) {
	approves, vetoes, err := storage.CountVotes(ctx, q, rc.proof.ID)
	if err != nil {
		return nil, err
	}
	participants, err := storage.CountParticipations(ctx, q, rc.challenge.ID)
	if err != nil {
		return nil, err
	}

	// Every other participant plus the organizer
	eligible := (participants - 1) + 1
	out := &ProofOutcome{
		ProofID:             rc.proof.ID,
		ParticipationID:     rc.participation.ID,
		Status:              rc.proof.Status,
		ParticipationStatus: rc.participation.Status,
		Mode:                storage.ValidationCommunity,
		ApproveCount:        approves,
		VetoCount:           vetoes,
		EligibleVoters:      eligible,
		Quorum:              quorum(eligible),
	}

	// A closed participation can no longer be resolved by votes
	needed := 0
	if out.Status == storage.ProofPending && out.ParticipationStatus == storage.ParticipationActive {
		needed = out.Quorum - approves
		if needed < 0 {
			needed = 0
		}
	}
	out.VotesNeeded = &needed
	return out, nil
}
