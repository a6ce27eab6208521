package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, telegram_id, COALESCE(username, ''), first_name, balance, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.Username,
		&user.FirstName,
		&user.Balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByTelegramID retrieves a user by their Telegram ID.
// It returns nil, nil when the user has not registered yet.
func GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE telegram_id = ?
	`, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram_id: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by their internal ID
func GetUserByID(ctx context.Context, q Querier, id int64) (*User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// CreateUser creates a new user and credits the welcome bonus through the ledger
func CreateUser(ctx context.Context, telegramID int64, username, firstName string, welcomeBonus int64) (*User, error) {
	var userID int64
	err := WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO users (telegram_id, username, first_name, balance)
			VALUES (?, ?, ?, 0)
		`, telegramID, username, firstName)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		userID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		if welcomeBonus > 0 {
			return Credit(ctx, tx, userID, welcomeBonus, Entry{
				Source:      SourceWelcomeBonus,
				Description: "Welcome bonus for joining!",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetUserByID(ctx, db, userID)
}

// GetOrCreateUser returns the user for a Telegram account, registering it on first contact
func GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string, welcomeBonus int64) (*User, error) {
	user, err := GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	if firstName == "" {
		firstName = fmt.Sprintf("user%d", telegramID)
	}
	user, err = CreateUser(ctx, telegramID, username, firstName, welcomeBonus)
	if errors.Is(err, ErrDuplicate) {
		// Registered concurrently
		return GetUserByTelegramID(ctx, telegramID)
	}
	return user, err
}
