// Package settlement computes how a challenge pot is split. It is pure:
// the same participations and rate always produce the same Result, which
// is what lets a preview match the eventual payout.
package settlement

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"pactbot/internal/storage"
)

var (
	// ErrNotFinalized is returned when a participation is not terminal
	ErrNotFinalized = errors.New("challenge not finalized")
	// ErrInvariantViolation is returned when the numbers cannot be allocated safely
	ErrInvariantViolation = errors.New("settlement invariant violation")
)

// Entry is the settlement view of a participation
type Entry struct {
	ParticipationID int64
	UserID          int64
	BetAmount       int64 // in cents
	Status          storage.ParticipationStatus
}

// FromParticipations converts stored participations into entries
func FromParticipations(parts []storage.Participation) []Entry {
	entries := make([]Entry, 0, len(parts))
	for _, p := range parts {
		entries = append(entries, Entry{
			ParticipationID: p.ID,
			UserID:          p.UserID,
			BetAmount:       p.BetAmount,
			Status:          p.Status,
		})
	}
	return entries
}

// Financials are all amounts in cents
type Financials struct {
	LosersPot         int64           `json:"losers_pot"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	Commission        int64           `json:"commission"`
	DistributablePot  int64           `json:"distributable_pot"`
	Retained          int64           `json:"retained"` // kept by the platform when nobody won
	WinnersTotalStake int64           `json:"winners_total_stake"`
}

// StatusCounts summarizes participations by outcome
type StatusCounts struct {
	Winners int `json:"winners"`
	Losers  int `json:"losers"`
	Active  int `json:"active"`
	Neutral int `json:"neutral"`
}

// WinnerPayout is one winner's share of the pot
type WinnerPayout struct {
	ParticipationID   int64 `json:"participation_id"`
	UserID            int64 `json:"user_id"`
	BetAmount         int64 `json:"bet_amount"`
	EstimatedTotal    int64 `json:"estimated_total"`
	EstimatedEarnings int64 `json:"estimated_earnings"`
}

// Refund returns a neutral participant's stake
type Refund struct {
	ParticipationID int64 `json:"participation_id"`
	UserID          int64 `json:"user_id"`
	Amount          int64 `json:"amount"`
}

// Result is the outcome of a settlement computation
type Result struct {
	Financials Financials     `json:"financials"`
	Status     StatusCounts   `json:"status"`
	Winners    []WinnerPayout `json:"winners_previews"`
	Refunds    []Refund       `json:"refunds,omitempty"`
	Preview    bool           `json:"preview"`
}

// Calculate computes the settlement of a finalized challenge. Every entry
// must be terminal.
func Calculate(entries []Entry, rate decimal.Decimal) (*Result, error) {
	for _, e := range entries {
		if !e.Status.Terminal() {
			return nil, fmt.Errorf("%w: participation %d is %s", ErrNotFinalized, e.ParticipationID, e.Status)
		}
	}
	return compute(entries, rate, false)
}

// Preview computes the settlement as if every still active participation
// had lost. Status.Active reports how many were treated that way.
func Preview(entries []Entry, rate decimal.Decimal) (*Result, error) {
	return compute(entries, rate, true)
}

func compute(entries []Entry, rate decimal.Decimal, preview bool) (*Result, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: commission rate %s out of range", ErrInvariantViolation, rate)
	}

	res := &Result{
		Financials: Financials{CommissionRate: rate},
		Winners:    []WinnerPayout{},
		Preview:    preview,
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ParticipationID < sorted[j].ParticipationID })

	var winners []Entry
	var neutralStake int64
	for _, e := range sorted {
		if e.BetAmount <= 0 {
			return nil, fmt.Errorf("%w: participation %d has stake %d", ErrInvariantViolation, e.ParticipationID, e.BetAmount)
		}
		switch e.Status {
		case storage.ParticipationWon:
			res.Status.Winners++
			res.Financials.WinnersTotalStake += e.BetAmount
			winners = append(winners, e)
		case storage.ParticipationLost, storage.ParticipationExpired:
			res.Status.Losers++
			res.Financials.LosersPot += e.BetAmount
		case storage.ParticipationActive:
			// Only reachable from Preview
			res.Status.Active++
			res.Financials.LosersPot += e.BetAmount
		case storage.ParticipationCompleted:
			res.Status.Neutral++
			neutralStake += e.BetAmount
			res.Refunds = append(res.Refunds, Refund{ParticipationID: e.ParticipationID, UserID: e.UserID, Amount: e.BetAmount})
		default:
			return nil, fmt.Errorf("%w: participation %d has unknown status %q", ErrInvariantViolation, e.ParticipationID, e.Status)
		}
	}

	fin := &res.Financials
	fin.Commission = decimal.NewFromInt(fin.LosersPot).Mul(rate).Round(0).IntPart()
	fin.DistributablePot = fin.LosersPot - fin.Commission

	if len(winners) == 0 {
		fin.Retained = fin.DistributablePot
	} else {
		if fin.WinnersTotalStake <= 0 {
			return nil, fmt.Errorf("%w: %d winners with total stake %d", ErrInvariantViolation, len(winners), fin.WinnersTotalStake)
		}
		res.Winners = allocate(winners, fin.DistributablePot, fin.WinnersTotalStake)
	}

	// Conservation: every staked cent ends up credited, commissioned or retained
	var paid int64
	for _, w := range res.Winners {
		paid += w.EstimatedTotal
	}
	for _, r := range res.Refunds {
		paid += r.Amount
	}
	in := fin.LosersPot + fin.WinnersTotalStake + neutralStake
	if out := paid + fin.Commission + fin.Retained; out != in {
		return nil, fmt.Errorf("%w: staked %d but allocated %d", ErrInvariantViolation, in, out)
	}

	return res, nil
}

// allocate splits pot proportionally to stake. Shares are floored to the
// cent and the remainder goes to the largest stake (lowest ID on ties).
func allocate(winners []Entry, pot, totalStake int64) []WinnerPayout {
	payouts := make([]WinnerPayout, len(winners))
	potDec := decimal.NewFromInt(pot)
	totalDec := decimal.NewFromInt(totalStake)

	var assigned int64
	largest := 0
	for i, w := range winners {
		share := potDec.Mul(decimal.NewFromInt(w.BetAmount)).Div(totalDec).Floor().IntPart()
		assigned += share
		payouts[i] = WinnerPayout{
			ParticipationID:   w.ParticipationID,
			UserID:            w.UserID,
			BetAmount:         w.BetAmount,
			EstimatedTotal:    w.BetAmount + share,
			EstimatedEarnings: share,
		}
		if w.BetAmount > winners[largest].BetAmount {
			largest = i
		}
	}

	remainder := pot - assigned
	payouts[largest].EstimatedEarnings += remainder
	payouts[largest].EstimatedTotal += remainder

	return payouts
}
