package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMessage(t *testing.T) {
	err := Validationf("trigger", "ember_followup", "condition.all[0].op", "unknown operator %q", "=~")
	assert.Equal(t, `validation: trigger "ember_followup" at condition.all[0].op: unknown operator "=~"`, err.Error())
	assert.True(t, IsValidation(err))
}

func TestValidationErrorsAggregate(t *testing.T) {
	var errs ValidationErrors
	assert.NoError(t, errs.ErrOrNil())

	errs = append(errs, Validationf("agent", "", "", "missing id"), Validationf("spawn", "s1", "", "bad"))
	err := errs.ErrOrNil()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "2 configuration error(s)")
	assert.True(t, IsValidation(err))
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict", &StateConflict{PlayerID: "p", Expected: 1, Actual: 2}, true},
		{"wrapped external", fmt.Errorf("generate: %w", External("generation", context.DeadlineExceeded)), true},
		{"transient", &TransientFailure{Op: "lock", Err: errors.New("timeout")}, true},
		{"violation", &ConsistencyViolation{AgentID: "ember"}, false},
		{"validation", Validationf("trigger", "t", "", "bad"), false},
		{"budget", &BudgetExceeded{Section: "instructions"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestExternalUnwraps(t *testing.T) {
	err := External("delivery", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, External("delivery", nil))
}
