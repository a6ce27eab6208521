package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

// ParticipationService handles joining challenges
type ParticipationService struct {
	clock clockwork.Clock
}

// NewParticipationService creates a new participation service
func NewParticipationService(clock clockwork.Clock) *ParticipationService {
	return &ParticipationService{clock: clock}
}

// Join stakes betAmount on a challenge. The debit and the participation
// insert commit together or not at all.
func (s *ParticipationService) Join(ctx context.Context, challengeID, userID, betAmount int64) (*storage.Participation, error) {
	var p *storage.Participation

	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		challenge, err := storage.GetChallengeByID(ctx, tx, challengeID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch {
		case challenge.Status != storage.ChallengeStatusActive:
			return fmt.Errorf("%w: challenge is %s", ErrInvalidJoin, challenge.Status)
		case !now.Before(challenge.EndDate):
			return fmt.Errorf("%w: challenge has ended", ErrInvalidJoin)
		case betAmount <= 0 || betAmount < challenge.MinBet:
			return fmt.Errorf("%w: bet must be at least %d", ErrInvalidJoin, challenge.MinBet)
		case userID == challenge.CreatorID:
			return fmt.Errorf("%w: cannot join own challenge", ErrInvalidJoin)
		}

		if _, err := storage.GetParticipation(ctx, tx, challengeID, userID); err == nil {
			return fmt.Errorf("%w: already joined", ErrInvalidJoin)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		p = &storage.Participation{
			ChallengeID: challengeID,
			UserID:      userID,
			BetAmount:   betAmount,
			Status:      storage.ParticipationActive,
			JoinedAt:    now,
		}
		if err := storage.CreateParticipation(ctx, tx, p); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("%w: already joined", ErrInvalidJoin)
			}
			return err
		}

		return storage.Debit(ctx, tx, userID, betAmount, storage.Entry{
			Source:      storage.SourceStake,
			Reference:   fmt.Sprintf("participation:%d", p.ID),
			Description: fmt.Sprintf("Stake for challenge #%d", challengeID),
		})
	})
	if err != nil {
		logger.Debug(userID, "participation_join_failed", fmt.Sprintf("challenge_id=%d bet=%d error=%s", challengeID, betAmount, err.Error()))
		return nil, err
	}

	logger.Info(userID, "participation_joined", fmt.Sprintf("challenge_id=%d participation_id=%d bet=%d", challengeID, p.ID, betAmount))
	return p, nil
}
