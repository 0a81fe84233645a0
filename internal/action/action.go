// Package action describes generation requests and puts them on the job
// scheduler.
//
// Evaluators never generate text. They return Actions: who speaks, why,
// on which channel, and after how long. The engine enqueues them here and
// picks them up again when the scheduler says they are due.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"argent/internal/logging"
	"argent/internal/scheduler"
)

// Kind says why an action exists.
type Kind string

const (
	KindGenerate         Kind = "generate"          // reply or trigger-driven message
	KindIntroduce        Kind = "introduce"         // new agent's first contact
	KindTransitionSignal Kind = "transition_signal" // lifecycle stage change signal
	KindReengage         Kind = "reengage"          // engagement nudge
	KindSurface          Kind = "surface"           // leak of an inter-agent exchange
)

// DelayRange is the window an action waits before it runs.
type DelayRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Draw returns a delay inside the range.
func (d DelayRange) Draw(r *rand.Rand) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(r.Int64N(int64(d.Max-d.Min)+1))
}

// Action is one queued generation request.
type Action struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	PlayerID string            `json:"player_id"`
	AgentID  string            `json:"agent_id"`
	Channel  string            `json:"channel,omitempty"`
	Intent   string            `json:"intent"`
	Source   string            `json:"source"` // e.g. trigger:ember_followup
	Metadata map[string]string `json:"metadata,omitempty"`

	Delay DelayRange `json:"delay"`
	// Pacing scales the drawn delay (lifecycle delay multiplier times
	// engagement pacing).
	Pacing float64 `json:"pacing,omitempty"`

	// SupersedeKey replaces any pending action of this player with the
	// same key.
	SupersedeKey string `json:"supersede_key,omitempty"`
	// Mandatory actions bypass probabilistic lifecycle suppression.
	Mandatory bool `json:"mandatory,omitempty"`

	// Reply context for actions answering an inbound message.
	InReplyTo string `json:"in_reply_to,omitempty"`
	Message   string `json:"message,omitempty"`

	// Draft is approved text whose delivery failed. A retry delivers it
	// as is instead of generating again.
	Draft string `json:"draft,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New returns an action with a fresh id.
func New(kind Kind, playerID, agentID, intent, source string) Action {
	return Action{ID: uuid.NewString(), Kind: kind, PlayerID: playerID, AgentID: agentID, Intent: intent, Source: source}
}

// Seeded returns a PCG source keyed on the given identifiers. The same
// identifiers always give the same sequence.
func Seeded(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Queue puts actions on a scheduler.
type Queue struct {
	sched scheduler.Scheduler
}

// NewQueue wraps a scheduler.
func NewQueue(s scheduler.Scheduler) *Queue {
	return &Queue{sched: s}
}

// Enqueue schedules a. The delay is drawn from a source seeded on the
// player and action id, scaled by Pacing. It returns when a will run.
func (q *Queue) Enqueue(ctx context.Context, now time.Time, a Action) (time.Time, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	delay := a.Delay.Draw(Seeded(a.PlayerID, a.ID))
	if a.Pacing > 0 {
		delay = time.Duration(float64(delay) * a.Pacing)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return time.Time{}, fmt.Errorf("encoding action %s: %w", a.ID, err)
	}
	runAt := now.Add(delay)
	job := scheduler.Job{
		ID:       a.ID,
		Kind:     scheduler.KindAction,
		PlayerID: a.PlayerID,
		Key:      a.SupersedeKey,
		RunAt:    runAt,
		Payload:  payload,
	}
	if err := q.sched.Schedule(ctx, job); err != nil {
		return time.Time{}, err
	}
	logging.SchedulerDebug("player %s: %s action %s for %s queued at %s (%s)",
		a.PlayerID, a.Kind, a.ID, a.AgentID, runAt.Format(time.RFC3339), a.Source)
	return runAt, nil
}

// RetryID names the retry job for one attempt of an action. Every attempt
// gets its own job, so acking the job that failed leaves its successor.
func RetryID(actionID string, attempt int) string {
	return fmt.Sprintf("retry:%s:%d", actionID, attempt)
}

// Requeue schedules a again as a retry job after delay.
func (q *Queue) Requeue(ctx context.Context, now time.Time, a Action, attempt int, delay time.Duration) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding action %s: %w", a.ID, err)
	}
	return q.sched.Schedule(ctx, scheduler.Job{
		ID:       RetryID(a.ID, attempt),
		Kind:     scheduler.KindRetryAction,
		PlayerID: a.PlayerID,
		Key:      a.SupersedeKey,
		RunAt:    now.Add(delay),
		Attempt:  attempt,
		Payload:  payload,
	})
}

// Decode extracts the action carried by an action or retry job.
func Decode(job scheduler.Job) (Action, error) {
	var a Action
	if err := json.Unmarshal(job.Payload, &a); err != nil {
		return Action{}, fmt.Errorf("decoding action job %s: %w", job.ID, err)
	}
	return a, nil
}
