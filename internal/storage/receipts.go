package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertReceipt records that a challenge has been paid out. The challenge
// ID is the primary key, so a second receipt returns ErrDuplicate.
func InsertReceipt(ctx context.Context, q Querier, r *DistributionReceipt) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO distribution_receipts (challenge_id, id, result, created_at)
		VALUES (?, ?, ?, ?)
	`, r.ChallengeID, r.ID, string(r.Result), toUnix(r.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert distribution receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves the distribution receipt of a challenge
func GetReceipt(ctx context.Context, q Querier, challengeID int64) (*DistributionReceipt, error) {
	var r DistributionReceipt
	var result string
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		SELECT challenge_id, id, result, created_at
		FROM distribution_receipts
		WHERE challenge_id = ?
	`, challengeID).Scan(&r.ChallengeID, &r.ID, &result, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution receipt: %w", err)
	}
	r.Result = []byte(result)
	r.CreatedAt = fromUnix(createdAt)
	return &r, nil
}
