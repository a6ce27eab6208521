package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

// ChallengeService owns the challenge records the settlement engine reads
type ChallengeService struct {
	clock       clockwork.Clock
	ratePublic  decimal.Decimal
	rateFriends decimal.Decimal
}

// NewChallengeService creates a challenge service with the platform commission rates
func NewChallengeService(clock clockwork.Clock, ratePublic, rateFriends decimal.Decimal) *ChallengeService {
	return &ChallengeService{clock: clock, ratePublic: ratePublic, rateFriends: rateFriends}
}

// CreateChallengeInput describes a new challenge
type CreateChallengeInput struct {
	CreatorID      int64
	Title          string
	MinBet         int64
	StartDate      time.Time
	EndDate        time.Time
	Visibility     storage.Visibility
	ValidationMode storage.ValidationMode
}

// Create validates and stores a challenge. It starts active when its start
// date has already been reached.
func (s *ChallengeService) Create(ctx context.Context, in CreateChallengeInput) (*storage.Challenge, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidChallenge)
	case in.MinBet <= 0:
		return nil, fmt.Errorf("%w: min bet must be greater than 0", ErrInvalidChallenge)
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return nil, fmt.Errorf("%w: start and end dates are required", ErrInvalidChallenge)
	case in.EndDate.Before(in.StartDate):
		return nil, fmt.Errorf("%w: end date is before start date", ErrInvalidChallenge)
	}

	if in.Visibility == "" {
		in.Visibility = storage.VisibilityPublic
	}
	if in.Visibility != storage.VisibilityPublic && in.Visibility != storage.VisibilityFriends {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidChallenge, in.Visibility)
	}
	if in.ValidationMode != storage.ValidationOrganizer && in.ValidationMode != storage.ValidationCommunity {
		return nil, fmt.Errorf("%w: unknown proof validation mode %q", ErrInvalidChallenge, in.ValidationMode)
	}

	now := s.clock.Now()
	status := storage.ChallengeStatusPending
	if !in.StartDate.After(now) {
		status = storage.ChallengeStatusActive
	}

	c := &storage.Challenge{
		CreatorID:             in.CreatorID,
		Title:                 title,
		MinBet:                in.MinBet,
		StartDate:             in.StartDate,
		EndDate:               in.EndDate,
		Status:                status,
		Visibility:            in.Visibility,
		CommissionRatePublic:  s.ratePublic,
		CommissionRateFriends: s.rateFriends,
		ValidationMode:        in.ValidationMode,
		CreatedAt:             now,
	}
	if _, err := storage.GetUserByID(ctx, storage.DB(), in.CreatorID); err != nil {
		return nil, fmt.Errorf("failed to load creator: %w", err)
	}
	if err := storage.CreateChallenge(ctx, storage.DB(), c); err != nil {
		return nil, err
	}

	logger.Info(in.CreatorID, "challenge_created", fmt.Sprintf("challenge_id=%d status=%s mode=%s min_bet=%d", c.ID, c.Status, c.ValidationMode, c.MinBet))
	return c, nil
}

// Get returns a challenge
func (s *ChallengeService) Get(ctx context.Context, id int64) (*storage.Challenge, error) {
	return storage.GetChallengeByID(ctx, storage.DB(), id)
}

// Participations returns the participations of a challenge
func (s *ChallengeService) Participations(ctx context.Context, id int64) ([]storage.Participation, error) {
	if _, err := storage.GetChallengeByID(ctx, storage.DB(), id); err != nil {
		return nil, err
	}
	return storage.ListParticipations(ctx, storage.DB(), id)
}

// ActivateStarted moves pending challenges whose start date has passed to
// active and returns how many changed
func (s *ChallengeService) ActivateStarted(ctx context.Context) (int, error) {
	ids, err := storage.ListChallengeIDsToActivate(ctx, storage.DB(), s.clock.Now())
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, id := range ids {
		ok, err := storage.AdvanceChallengeStatus(ctx, storage.DB(), id, storage.ChallengeStatusPending, storage.ChallengeStatusActive)
		if err != nil {
			return activated, err
		}
		if ok {
			activated++
			logger.Info(0, "challenge_activated", fmt.Sprintf("challenge_id=%d", id))
		}
	}
	return activated, nil
}
