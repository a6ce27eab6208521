package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"pactbot/internal/logger"
	"pactbot/internal/settlement"
	"pactbot/internal/storage"
)

// Receipt is the permanent record of a challenge payout
type Receipt struct {
	ID            string             `json:"id"`
	ChallengeID   int64              `json:"challenge_id"`
	DistributedAt time.Time          `json:"distributed_at"`
	Result        *settlement.Result `json:"result"`
}

// SettlementService finalizes challenges and distributes their pots
type SettlementService struct {
	clock    clockwork.Clock
	notifier Notifier
}

// NewSettlementService creates a settlement service. A nil notifier disables notifications.
func NewSettlementService(clock clockwork.Clock, notifier Notifier) *SettlementService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SettlementService{clock: clock, notifier: notifier}
}

// Finalize closes every still active participation of an ended challenge
// as lost. Participations already won or lost are untouched, so calling it
// again is a no-op.
func (s *SettlementService) Finalize(ctx context.Context, challengeID int64) (int64, error) {
	var closed int64
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		closed, err = s.finalize(ctx, tx, challengeID)
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Info(0, "challenge_finalized", fmt.Sprintf("challenge_id=%d closed=%d", challengeID, closed))
	return closed, nil
}

func (s *SettlementService) finalize(ctx context.Context, tx *sql.Tx, challengeID int64) (int64, error) {
	challenge, err := storage.GetChallengeByID(ctx, tx, challengeID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	if now.Before(challenge.EndDate) {
		return 0, fmt.Errorf("%w: ends at %s", ErrChallengeNotEnded, challenge.EndDate.Format(time.RFC3339))
	}
	return storage.CloseActiveParticipations(ctx, tx, challengeID, storage.ParticipationLost, now)
}

// Distribute pays out a challenge exactly once. Finalization, the winner
// credits, the receipt and the status change commit in one transaction.
// Later calls return the stored receipt together with ErrAlreadyDistributed.
func (s *SettlementService) Distribute(ctx context.Context, challengeID int64) (*Receipt, error) {
	var receipt *Receipt
	var challenge *storage.Challenge

	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := loadReceipt(ctx, tx, challengeID)
		if err == nil {
			receipt = existing
			return ErrAlreadyDistributed
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if _, err := s.finalize(ctx, tx, challengeID); err != nil {
			return err
		}

		challenge, err = storage.GetChallengeByID(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		parts, err := storage.ListParticipations(ctx, tx, challengeID)
		if err != nil {
			return err
		}

		result, err := settlement.Calculate(settlement.FromParticipations(parts), challenge.CommissionRate())
		if err != nil {
			if errors.Is(err, settlement.ErrInvariantViolation) {
				logger.Error(0, "settlement_invariant_violation", err, fmt.Sprintf("challenge_id=%d", challengeID))
			}
			return err
		}

		receipt = &Receipt{
			ID:            uuid.NewString(),
			ChallengeID:   challengeID,
			DistributedAt: s.clock.Now().UTC(),
			Result:        result,
		}
		if err := applyPayouts(ctx, tx, receipt); err != nil {
			return err
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode settlement result: %w", err)
		}
		err = storage.InsertReceipt(ctx, tx, &storage.DistributionReceipt{
			ID:          receipt.ID,
			ChallengeID: challengeID,
			Result:      encoded,
			CreatedAt:   receipt.DistributedAt,
		})
		if errors.Is(err, storage.ErrDuplicate) {
			receipt = nil
			return ErrAlreadyDistributed
		}
		if err != nil {
			return err
		}

		for _, from := range []storage.ChallengeStatus{storage.ChallengeStatusActive, storage.ChallengeStatusPending} {
			ok, err := storage.AdvanceChallengeStatus(ctx, tx, challengeID, from, storage.ChallengeStatusCompleted)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
		return nil
	})

	if errors.Is(err, ErrAlreadyDistributed) {
		if receipt == nil {
			// Lost the race to a concurrent distribute; read what it stored
			stored, loadErr := loadReceipt(ctx, storage.DB(), challengeID)
			if loadErr != nil {
				return nil, loadErr
			}
			receipt = stored
		}
		logger.Debug(0, "distribution_replayed", fmt.Sprintf("challenge_id=%d receipt_id=%s", challengeID, receipt.ID))
		return receipt, ErrAlreadyDistributed
	}
	if err != nil {
		logger.Error(0, "distribution_failed", err, fmt.Sprintf("challenge_id=%d", challengeID))
		return nil, err
	}

	fin := receipt.Result.Financials
	logger.Info(0, "distribution_completed", fmt.Sprintf("challenge_id=%d receipt_id=%s winners=%d losers_pot=%d commission=%d retained=%d",
		challengeID, receipt.ID, receipt.Result.Status.Winners, fin.LosersPot, fin.Commission, fin.Retained))
	s.notifier.ChallengeSettled(ctx, challenge, receipt)
	return receipt, nil
}

func applyPayouts(ctx context.Context, tx *sql.Tx, receipt *Receipt) error {
	ref := "distribution:" + receipt.ID
	for _, w := range receipt.Result.Winners {
		err := storage.Credit(ctx, tx, w.UserID, w.EstimatedTotal, storage.Entry{
			Source:      storage.SourcePayout,
			Reference:   ref,
			Description: fmt.Sprintf("Payout for challenge #%d (stake: %d, earnings: %d)", receipt.ChallengeID, w.BetAmount, w.EstimatedEarnings),
		})
		if err != nil {
			return fmt.Errorf("failed to credit winner %d: %w", w.UserID, err)
		}
	}
	for _, r := range receipt.Result.Refunds {
		err := storage.Credit(ctx, tx, r.UserID, r.Amount, storage.Entry{
			Source:      storage.SourceRefund,
			Reference:   ref,
			Description: fmt.Sprintf("Stake returned for challenge #%d", receipt.ChallengeID),
		})
		if err != nil {
			return fmt.Errorf("failed to refund user %d: %w", r.UserID, err)
		}
	}
	return nil
}

// PreviewDistribution computes the settlement from the current
// participations, treating active ones as lost. It never writes.
func (s *SettlementService) PreviewDistribution(ctx context.Context, challengeID int64) (*settlement.Result, error) {
	var challenge *storage.Challenge
	var parts []storage.Participation

	// Read both in one transaction so the snapshot is consistent
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		challenge, err = storage.GetChallengeByID(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		parts, err = storage.ListParticipations(ctx, tx, challengeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return settlement.Preview(settlement.FromParticipations(parts), challenge.CommissionRate())
}

// Receipt returns the stored receipt of a distributed challenge
func (s *SettlementService) Receipt(ctx context.Context, challengeID int64) (*Receipt, error) {
	return loadReceipt(ctx, storage.DB(), challengeID)
}

func loadReceipt(ctx context.Context, q storage.Querier, challengeID int64) (*Receipt, error) {
	stored, err := storage.GetReceipt(ctx, q, challengeID)
	if err != nil {
		return nil, err
	}
	var result settlement.Result
	if err := json.Unmarshal(stored.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode settlement result: %w", err)
	}
	return &Receipt{
		ID:            stored.ID,
		ChallengeID:   stored.ChallengeID,
		DistributedAt: stored.CreatedAt,
		Result:        &result,
	}, nil
}
