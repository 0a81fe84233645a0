// Package faults defines the engine's error taxonomy.
//
// None of these errors ever reach a player. Callers use the predicates at
// the bottom of this file to decide between retrying locally, requeueing the
// action for a later sweep, or degrading to "no message this cycle".
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed static configuration. It is fatal at
// startup: the engine refuses to serve a configuration that produced one.
type ValidationError struct {
	Source string // config record kind, e.g. "trigger"
	ID     string // record identifier, may be empty
	Path   string // location inside the record, e.g. "condition.all[1].op"
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation: ")
	b.WriteString(e.Source)
	if e.ID != "" {
		fmt.Fprintf(&b, " %q", e.ID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Validationf builds a ValidationError.
func Validationf(source, id, path, format string, args ...any) error {
	return &ValidationError{Source: source, ID: id, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ValidationErrors aggregates every problem found in one load so operators
// can fix a configuration in one pass.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d configuration error(s):\n  %s", len(v), strings.Join(msgs, "\n  "))
}

// Unwrap exposes the individual errors to errors.Is/As.
func (v ValidationErrors) Unwrap() []error { return v }

// ErrOrNil returns nil for an empty list.
func (v ValidationErrors) ErrOrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// StateConflict reports an optimistic-version mismatch on apply.
type StateConflict struct {
	PlayerID string
	Expected int64
	Actual   int64
}

func (e *StateConflict) Error() string {
	return fmt.Sprintf("state conflict for player %s: expected version %d, found %d", e.PlayerID, e.Expected, e.Actual)
}

// TransientFailure is returned when local retries were exhausted or a
// bounded wait elapsed. The whole operation may be retried later.
type TransientFailure struct {
	Op  string
	Err error
}

func (e *TransientFailure) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientFailure) Unwrap() error { return e.Err }

// ConsistencyViolation reports generated text that contradicts the agent's
// own claim history.
type ConsistencyViolation struct {
	AgentID string
	Claims  []string // offending claim texts
	Prior   []string // claims they contradict
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation for agent %s: %d contradicting claim(s)", e.AgentID, len(e.Claims))
}

// ExternalServiceError wraps a failure of a collaborator such as the
// generation service, semantic memory, or the delivery gateway.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError unless it is nil.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Err: err}
}

// BudgetExceeded reports that context assembly could not fit a section.
type BudgetExceeded struct {
	Section  string
	Needed   int
	Budget   int
	Required bool // the section may not be truncated
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("context budget exceeded in %s: need %d, have %d", e.Section, e.Needed, e.Budget)
}

// =============================================================================
// PREDICATES
// =============================================================================

// IsValidation reports whether err contains a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err contains a StateConflict.
func IsConflict(err error) bool {
	var target *StateConflict
	return errors.As(err, &target)
}

// IsTransient reports whether err contains a TransientFailure.
func IsTransient(err error) bool {
	var target *TransientFailure
	return errors.As(err, &target)
}

// IsExternal reports whether err contains an ExternalServiceError.
func IsExternal(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}

// IsBudget reports whether err contains a BudgetExceeded.
func IsBudget(err error) bool {
	var target *BudgetExceeded
	return errors.As(err, &target)
}

// IsRetryable reports whether the failed operation may be attempted again
// later without risking duplicate side effects.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsConflict(err) || IsTransient(err) || IsExternal(err)
}
