package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the job's entity no longer exists.
	ErrNotFound = errors.New("entity not found")
	// ErrStale means the entity changed after the job was scheduled.
	ErrStale = errors.New("snapshot token is stale")
	// ErrDisabled means the organization has notifications turned off.
	ErrDisabled = errors.New("notifications disabled")
	// ErrConfigMissing means no generative provider is configured.
	ErrConfigMissing = errors.New("generative provider not configured")
	// ErrGeneration covers generator errors, timeouts and empty output.
	ErrGeneration = errors.New("generation failed")
	// ErrNoBot means not even a system bot could be resolved.
	ErrNoBot = errors.New("no bot available")
)

// PersistenceError is a failed store read or write. It is retryable and
// carries enough ids to diagnose the failing job.
type PersistenceError struct {
	Op       string
	EntityID int64
	OrgID    int64
	BotID    int64
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s (entity=%d org=%d bot=%d): %v", e.Op, e.EntityID, e.OrgID, e.BotID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Retryable() bool {
	return true
}

// Outcome is how a job finished.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeStale      Outcome = "stale"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeDisabled   Outcome = "disabled"
	OutcomeNoChange   Outcome = "no_change"
	OutcomeSelfNotify Outcome = "self_notify"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeFailed     Outcome = "failed"
)

func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, ErrStale):
		return OutcomeStale
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrDisabled):
		return OutcomeDisabled
	default:
		return OutcomeFailed
	}
}
