package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a user in the system
type User struct {
	ID         int64     `json:"id" db:"id"`
	TelegramID int64     `json:"telegram_id" db:"telegram_id"`
	Username   string    `json:"username" db:"username"`
	FirstName  string    `json:"first_name" db:"first_name"`
	Balance    int64     `json:"balance" db:"balance"` // in cents (1000 = 10.00)
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionSource tags a ledger entry
type TransactionSource string

const (
	SourceWelcomeBonus TransactionSource = "WELCOME_BONUS"
	SourceDeposit      TransactionSource = "DEPOSIT"
	SourceStake        TransactionSource = "STAKE"
	SourcePayout       TransactionSource = "PAYOUT"
	SourceRefund       TransactionSource = "REFUND"
)

// Transaction represents a balance change
type Transaction struct {
	ID          int64             `json:"id" db:"id"`
	UserID      int64             `json:"user_id" db:"user_id"`
	Amount      int64             `json:"amount" db:"amount"` // negative for debits
	SourceType  TransactionSource `json:"source_type" db:"source_type"`
	Reference   string            `json:"reference,omitempty" db:"reference"`
	Description string            `json:"description" db:"description"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// ChallengeStatus only moves forward: pending -> active -> completed
type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "pending"
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

// Visibility selects which commission rate applies
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
)

// ValidationMode selects how proofs are resolved
type ValidationMode string

const (
	ValidationOrganizer ValidationMode = "organizer"
	ValidationCommunity ValidationMode = "community"
)

// Challenge is a time-boxed commitment users stake money on
type Challenge struct {
	ID                    int64           `json:"id"`
	CreatorID             int64           `json:"creator_id"`
	Title                 string          `json:"title"`
	MinBet                int64           `json:"min_bet"` // in cents
	StartDate             time.Time       `json:"start_date"`
	EndDate               time.Time       `json:"end_date"`
	Status                ChallengeStatus `json:"status"`
	Visibility            Visibility      `json:"visibility"`
	CommissionRatePublic  decimal.Decimal `json:"commission_rate_public"`
	CommissionRateFriends decimal.Decimal `json:"commission_rate_friends"`
	ValidationMode        ValidationMode  `json:"proof_validation_mode"`
	CreatedAt             time.Time       `json:"created_at"`
}

// CommissionRate returns the rate for the challenge's visibility
func (c *Challenge) CommissionRate() decimal.Decimal {
	if c.Visibility == VisibilityFriends {
		return c.CommissionRateFriends
	}
	return c.CommissionRatePublic
}

// ParticipationStatus tracks a participant's outcome
type ParticipationStatus string

const (
	ParticipationActive ParticipationStatus = "active"
	ParticipationWon    ParticipationStatus = "won"
	ParticipationLost   ParticipationStatus = "lost"
	// ParticipationCompleted is set by the challenge admin tooling outside
	// this engine; settlement refunds the stake
	ParticipationCompleted ParticipationStatus = "completed"
	// ParticipationExpired is set by the challenge admin tooling outside
	// this engine; settlement treats it as a loss
	ParticipationExpired ParticipationStatus = "expired"
)

// Terminal reports whether no further transition is possible
func (s ParticipationStatus) Terminal() bool {
	switch s {
	case ParticipationWon, ParticipationLost, ParticipationCompleted, ParticipationExpired:
		return true
	}
	return false
}

// Participation is one user's stake in a challenge
type Participation struct {
	ID          int64               `json:"id"`
	ChallengeID int64               `json:"challenge_id"`
	UserID      int64               `json:"user_id"`
	BetAmount   int64               `json:"bet_amount"` // in cents
	Status      ParticipationStatus `json:"status"`
	JoinedAt    time.Time           `json:"joined_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ProofStatus is the resolution state of a proof
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofApproved ProofStatus = "approved"
	ProofRejected ProofStatus = "rejected"
)

// Proof is the evidence submitted for a participation
type Proof struct {
	ID               int64       `json:"id"`
	ParticipationID  int64       `json:"participation_id"`
	Content          string      `json:"proof_content"`
	Value            *float64    `json:"proof_value,omitempty"`
	Confidence       *float64    `json:"confidence,omitempty"`
	SubmittedAt      time.Time   `json:"submitted_at"`
	Status           ProofStatus `json:"status"`
	DecidedBy        int64       `json:"decided_by,omitempty"`
	OrganizerComment string      `json:"organizer_comment,omitempty"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty"`
}

// VoteType is a community vote on a proof
type VoteType string

const (
	VoteApprove VoteType = "approve"
	VoteVeto    VoteType = "veto"
)

// Vote is one voter's ballot on a proof
type Vote struct {
	ProofID   int64     `json:"proof_id"`
	VoterID   int64     `json:"voter_id"`
	VoteType  VoteType  `json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}

// DistributionReceipt is the permanent record of a challenge payout
type DistributionReceipt struct {
	ID          string    `json:"id"`
	ChallengeID int64     `json:"challenge_id"`
	Result      []byte    `json:"-"` // JSON encoded settlement result
	CreatedAt   time.Time `json:"created_at"`
}
