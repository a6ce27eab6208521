package service

import (
	"context"
	"database/sql"
	"fmt"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

// MaxDeposit caps a single deposit, in cents
const MaxDeposit = 1000000

// AccountService manages users and their ledger balance
type AccountService struct {
	welcomeBonus int64
}

// NewAccountService creates an account service that credits welcomeBonus to new users
func NewAccountService(welcomeBonus int64) *AccountService {
	return &AccountService{welcomeBonus: welcomeBonus}
}

// Account is a user with their most recent ledger entries
type Account struct {
	User         *storage.User         `json:"user"`
	Transactions []storage.Transaction `json:"transactions"`
}

// Register returns the user for a Telegram account, creating it on first contact
func (s *AccountService) Register(ctx context.Context, telegramID int64, username, firstName string) (*storage.User, error) {
	return storage.GetOrCreateUser(ctx, telegramID, username, firstName, s.welcomeBonus)
}

// Deposit credits the user's balance
func (s *AccountService) Deposit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 || amount > MaxDeposit {
		return 0, fmt.Errorf("%w: deposit must be between 1 and %d", ErrInvalidAmount, MaxDeposit)
	}

	var balance int64
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		err := storage.Credit(ctx, tx, userID, amount, storage.Entry{
			Source:      storage.SourceDeposit,
			Description: "Deposit",
		})
		if err != nil {
			return err
		}
		balance, err = storage.GetBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Info(userID, "deposit", fmt.Sprintf("amount=%d new_balance=%d", amount, balance))
	return balance, nil
}

// Overview returns the user and their last limit transactions
func (s *AccountService) Overview(ctx context.Context, userID int64, limit int) (*Account, error) {
	user, err := storage.GetUserByID(ctx, storage.DB(), userID)
	if err != nil {
		return nil, err
	}
	txs, err := storage.ListTransactions(ctx, storage.DB(), userID, limit)
	if err != nil {
		return nil, err
	}
	return &Account{User: user, Transactions: txs}, nil
}
