// Package lifecycle manages destination table structure and guards step
// status transitions.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.StepStatus][]types.StepStatus{
	types.StepPending:        {types.StepRunning, types.StepUpstreamFailed, types.StepSkipped, types.StepCancelled},
	types.StepRunning:        {types.StepSucceeded, types.StepFailed, types.StepRunning, types.StepCancelled},
	types.StepSucceeded:      {},
	types.StepFailed:         {},
	types.StepUpstreamFailed: {},
	types.StepSkipped:        {},
	types.StepCancelled:      {},
}

// CanTransition checks if transitioning from one step status to another is valid.
// RUNNING -> RUNNING is a retry.
func CanTransition(from, to types.StepStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new status, or an error if the transition is invalid.
func Transition(from, to types.StepStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.StepStatus) bool {
	allowed, ok := validTransitions[status]
	return ok && len(allowed) == 0
}

// Unblocks reports whether a predecessor in this status lets its successors start.
func Unblocks(status types.StepStatus) bool {
	return status == types.StepSucceeded || status == types.StepSkipped
}
