package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const challengeColumns = `id, creator_id, title, min_bet, start_at, end_at, status, visibility,
	commission_rate_public, commission_rate_friends, validation_mode, created_at`

func scanChallenge(row interface{ Scan(...any) error }) (*Challenge, error) {
	var c Challenge
	var startAt, endAt, createdAt int64
	err := row.Scan(
		&c.ID,
		&c.CreatorID,
		&c.Title,
		&c.MinBet,
		&startAt,
		&endAt,
		&c.Status,
		&c.Visibility,
		&c.CommissionRatePublic,
		&c.CommissionRateFriends,
		&c.ValidationMode,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	c.StartDate = fromUnix(startAt)
	c.EndDate = fromUnix(endAt)
	c.CreatedAt = fromUnix(createdAt)
	return &c, nil
}

// CreateChallenge inserts the challenge and sets its ID
func CreateChallenge(ctx context.Context, q Querier, c *Challenge) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO challenges (creator_id, title, min_bet, start_at, end_at, status, visibility,
			commission_rate_public, commission_rate_friends, validation_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.CreatorID,
		c.Title,
		c.MinBet,
		toUnix(c.StartDate),
		toUnix(c.EndDate),
		string(c.Status),
		string(c.Visibility),
		c.CommissionRatePublic.String(),
		c.CommissionRateFriends.String(),
		string(c.ValidationMode),
		toUnix(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetChallengeByID retrieves a challenge
func GetChallengeByID(ctx context.Context, q Querier, id int64) (*Challenge, error) {
	c, err := scanChallenge(q.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// AdvanceChallengeStatus moves a challenge from one status to the next.
// It reports false when the challenge was not in the expected status.
func AdvanceChallengeStatus(ctx context.Context, q Querier, id int64, from, to ChallengeStatus) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE challenges
		SET status = ?
		WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update challenge status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read challenge update result: %w", err)
	}
	return affected == 1, nil
}

// ListChallengeIDsToActivate returns pending challenges whose start date has passed
func ListChallengeIDsToActivate(ctx context.Context, q Querier, now time.Time) ([]int64, error) {
	return listChallengeIDs(ctx, q, `
		SELECT id FROM challenges
		WHERE status = 'pending' AND start_at <= ?
		ORDER BY id
	`, toUnix(now))
}

// ListChallengeIDsToSettle returns active challenges that ended at or before cutoff
func ListChallengeIDsToSettle(ctx context.Context, q Querier, cutoff time.Time) ([]int64, error) {
	return listChallengeIDs(ctx, q, `
		SELECT id FROM challenges
		WHERE status = 'active' AND end_at <= ?
		ORDER BY id
	`, toUnix(cutoff))
}

func listChallengeIDs(ctx context.Context, q Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan challenge id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}
	return ids, nil
}
