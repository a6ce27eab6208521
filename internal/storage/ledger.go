package storage

import (
	"context"
	"errors"
	"fmt"

	"pactbot/internal/logger"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive debits and negative credits
	ErrInvalidAmount = errors.New("invalid amount")
)

// Entry describes the ledger transaction row written alongside a balance change
type Entry struct {
	Source      TransactionSource
	Reference   string
	Description string
}

// Debit removes amount from the user's balance. The balance check and the
// update are a single conditional UPDATE, so concurrent debits cannot both
// pass the check.
func Debit(ctx context.Context, q Querier, userID, amount int64, entry Entry) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit of %d", ErrInvalidAmount, amount)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance >= ?
	`, amount, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit user %d: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		if _, err := GetUserByID(ctx, q, userID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}

	if err := insertTransaction(ctx, q, userID, -amount, entry); err != nil {
		return err
	}

	logger.Debug(userID, "ledger_debit", fmt.Sprintf("amount=%d source=%s ref=%s", amount, entry.Source, entry.Reference))
	return nil
}

// Credit adds amount to the user's balance. Credits are applied as
// balance = balance + amount so concurrent credits never lose updates.
func Credit(ctx context.Context, q Querier, userID, amount int64, entry Entry) error {
	if amount < 0 {
		return fmt.Errorf("%w: credit of %d", ErrInvalidAmount, amount)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to credit user %d: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read credit result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := insertTransaction(ctx, q, userID, amount, entry); err != nil {
		return err
	}

	logger.Debug(userID, "ledger_credit", fmt.Sprintf("amount=%d source=%s ref=%s", amount, entry.Source, entry.Reference))
	return nil
}

// GetBalance returns the user's spendable balance in cents
func GetBalance(ctx context.Context, q Querier, userID int64) (int64, error) {
	user, err := GetUserByID(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// ListTransactions returns the user's most recent ledger entries, newest first
func ListTransactions(ctx context.Context, q Querier, userID int64, limit int) ([]Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, amount, source_type, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.SourceType, &t.Reference, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func insertTransaction(ctx context.Context, q Querier, userID, amount int64, entry Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (user_id, amount, source_type, reference, description)
		VALUES (?, ?, ?, ?, ?)
	`, userID, amount, string(entry.Source), entry.Reference, entry.Description)
	if err != nil {
		return fmt.Errorf("failed to log %s transaction: %w", entry.Source, err)
	}
	return nil
}
