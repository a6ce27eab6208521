package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const participationColumns = `id, challenge_id, user_id, bet_amount, status, joined_at, updated_at`

func scanParticipation(row interface{ Scan(...any) error }) (*Participation, error) {
	var p Participation
	var joinedAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.ChallengeID, &p.UserID, &p.BetAmount, &p.Status, &joinedAt, &updatedAt); err != nil {
		return nil, err
	}
	p.JoinedAt = fromUnix(joinedAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return &p, nil
}

// CreateParticipation inserts an active participation and sets its ID.
// A second participation for the same (challenge, user) returns ErrDuplicate.
func CreateParticipation(ctx context.Context, q Querier, p *Participation) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO participations (challenge_id, user_id, bet_amount, status, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ChallengeID, p.UserID, p.BetAmount, string(p.Status), toUnix(p.JoinedAt), toUnix(p.JoinedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert participation: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.UpdatedAt = p.JoinedAt
	return nil
}

// GetParticipationByID retrieves a participation
func GetParticipationByID(ctx context.Context, q Querier, id int64) (*Participation, error) {
	p, err := scanParticipation(q.QueryRowContext(ctx, `
		SELECT `+participationColumns+`
		FROM participations
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return p, nil
}

// GetParticipation retrieves the participation of a user in a challenge
func GetParticipation(ctx context.Context, q Querier, challengeID, userID int64) (*Participation, error) {
	p, err := scanParticipation(q.QueryRowContext(ctx, `
		SELECT `+participationColumns+`
		FROM participations
		WHERE challenge_id = ? AND user_id = ?
	`, challengeID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return p, nil
}

// ListParticipations returns all participations of a challenge ordered by ID
func ListParticipations(ctx context.Context, q Querier, challengeID int64) ([]Participation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+participationColumns+`
		FROM participations
		WHERE challenge_id = ?
		ORDER BY id
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	defer rows.Close()

	var parts []Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		parts = append(parts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participations: %w", err)
	}
	return parts, nil
}

// CountParticipations returns the number of participants in a challenge
func CountParticipations(ctx context.Context, q Querier, challengeID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participations WHERE challenge_id = ?
	`, challengeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participations: %w", err)
	}
	return n, nil
}

// TransitionParticipation moves a participation from one status to another.
// It is a check-and-set: it reports false when the participation was no
// longer in the expected status.
func TransitionParticipation(ctx context.Context, q Querier, id int64, from, to ParticipationStatus, at time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE participations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toUnix(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update participation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read participation update result: %w", err)
	}
	return affected == 1, nil
}

// CloseActiveParticipations moves every still active participation of the
// challenge to status and returns how many rows changed
func CloseActiveParticipations(ctx context.Context, q Querier, challengeID int64, to ParticipationStatus, at time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE participations
		SET status = ?, updated_at = ?
		WHERE challenge_id = ? AND status = 'active'
	`, string(to), toUnix(at), challengeID)
	if err != nil {
		return 0, fmt.Errorf("failed to close participations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read close result: %w", err)
	}
	return affected, nil
}
