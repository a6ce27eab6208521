package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const proofColumns = `id, participation_id, content, value, confidence, submitted_at, status,
	COALESCE(decided_by, 0), COALESCE(organizer_comment, ''), resolved_at`

func scanProof(row interface{ Scan(...any) error }) (*Proof, error) {
	var p Proof
	var value, confidence sql.NullFloat64
	var submittedAt int64
	var resolvedAt sql.NullInt64
	err := row.Scan(
		&p.ID,
		&p.ParticipationID,
		&p.Content,
		&value,
		&confidence,
		&submittedAt,
		&p.Status,
		&p.DecidedBy,
		&p.OrganizerComment,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if value.Valid {
		p.Value = &value.Float64
	}
	if confidence.Valid {
		p.Confidence = &confidence.Float64
	}
	p.SubmittedAt = fromUnix(submittedAt)
	p.ResolvedAt = fromNullUnix(resolvedAt)
	return &p, nil
}

// CreateProof inserts a pending proof and sets its ID.
// A second proof for the same participation returns ErrDuplicate.
func CreateProof(ctx context.Context, q Querier, p *Proof) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO proofs (participation_id, content, value, confidence, submitted_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ParticipationID, p.Content, p.Value, p.Confidence, toUnix(p.SubmittedAt), string(p.Status))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert proof: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetProofByID retrieves a proof
func GetProofByID(ctx context.Context, q Querier, id int64) (*Proof, error) {
	p, err := scanProof(q.QueryRowContext(ctx, `
		SELECT `+proofColumns+`
		FROM proofs
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}
	return p, nil
}

// GetProofByParticipation retrieves the proof submitted for a participation
func GetProofByParticipation(ctx context.Context, q Querier, participationID int64) (*Proof, error) {
	p, err := scanProof(q.QueryRowContext(ctx, `
		SELECT `+proofColumns+`
		FROM proofs
		WHERE participation_id = ?
	`, participationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}
	return p, nil
}

// ResolveProof moves a pending proof to status. It reports false when the
// proof was already resolved.
func ResolveProof(ctx context.Context, q Querier, id int64, status ProofStatus, decidedBy int64, comment string, at time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE proofs
		SET status = ?, decided_by = ?, organizer_comment = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), decidedBy, comment, toUnix(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve proof: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read proof update result: %w", err)
	}
	return affected == 1, nil
}

// InsertVote records a ballot. A voter voting twice on a proof returns ErrDuplicate.
func InsertVote(ctx context.Context, q Querier, v *Vote) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO votes (proof_id, voter_id, vote_type, created_at)
		VALUES (?, ?, ?, ?)
	`, v.ProofID, v.VoterID, string(v.VoteType), toUnix(v.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// CountVotes returns the approve and veto counts of a proof
func CountVotes(ctx context.Context, q Querier, proofID int64) (approves, vetoes int, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN vote_type = 'approve' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote_type = 'veto' THEN 1 ELSE 0 END), 0)
		FROM votes
		WHERE proof_id = ?
	`, proofID).Scan(&approves, &vetoes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return approves, vetoes, nil
}

// ListVotes returns the ballots of a proof in the order they were cast
func ListVotes(ctx context.Context, q Querier, proofID int64) ([]Vote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT proof_id, voter_id, vote_type, created_at
		FROM votes
		WHERE proof_id = ?
		ORDER BY created_at, voter_id
	`, proofID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []Vote
	for rows.Next() {
		var v Vote
		var createdAt int64
		if err := rows.Scan(&v.ProofID, &v.VoterID, &v.VoteType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.CreatedAt = fromUnix(createdAt)
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return votes, nil
}
