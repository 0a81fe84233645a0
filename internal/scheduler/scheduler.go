// Package scheduler runs one-shot delayed jobs and periodic sweeps.
//
// Delivery is at-least-once. Due hands out a lease instead of removing a job,
// so a job whose worker dies becomes due again once the lease runs out;
// handlers must therefore be idempotent. Jobs carrying a supersede Key are
// replaced by later jobs with the same player and key: the older one is
// dropped when it comes due instead of running out of order.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind names a job handler.
type Kind string

const (
	KindAction          Kind = "action"
	KindRetryAction     Kind = "retry_action"
	KindStoryEvent      Kind = "story_event"
	KindSurfaceExchange Kind = "surface_exchange"
	KindSweepPlayer     Kind = "sweep_player"
)

// ErrUnknownKind is returned by the runner for jobs nobody handles.
var ErrUnknownKind = errors.New("no handler for job kind")

// Job is one scheduled callback.
type Job struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	PlayerID string          `json:"player_id"`
	Key      string          `json:"key,omitempty"`
	RunAt    time.Time       `json:"run_at"`
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SupersedeKey returns the slot a keyed job occupies, or "" for unkeyed jobs.
func (j Job) SupersedeKey() string {
	if j.Key == "" {
		return ""
	}
	return j.PlayerID + "|" + j.Key
}

// Scheduler is the job store contract.
type Scheduler interface {
	// Schedule stores job, replacing any job with the same ID. A keyed job
	// becomes the current holder of its supersede slot.
	Schedule(ctx context.Context, job Job) error

	// Due leases up to limit jobs whose RunAt is not after now. Leased jobs
	// are not handed out again until lease has elapsed.
	Due(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)

	// Ack removes a finished job.
	Ack(ctx context.Context, job Job) error

	// Current reports whether job still holds its supersede slot. Unkeyed
	// jobs are always current.
	Current(ctx context.Context, job Job) (bool, error)

	// Pending returns the number of stored jobs.
	Pending(ctx context.Context) (int, error)

	Close() error
}
