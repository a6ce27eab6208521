package service

import (
	"context"

	"pactbot/internal/storage"
)

// Notifier receives settlement events after they commit. Implementations
// must not fail the operation that triggered them.
type Notifier interface {
	ProofResolved(ctx context.Context, userID int64, challenge *storage.Challenge, out *ProofOutcome)
	ChallengeSettled(ctx context.Context, challenge *storage.Challenge, receipt *Receipt)
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) ProofResolved(context.Context, int64, *storage.Challenge, *ProofOutcome) {}

func (NopNotifier) ChallengeSettled(context.Context, *storage.Challenge, *Receipt) {}
