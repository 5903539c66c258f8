// Package tree implements the dynamic execution tree: runtime nodes mirroring
// the static specmodel tree, extended at runtime by loop expansion, each
// carrying volatile status/result state and a deterministic telemetry
// identity (StaticPathIndex).
//
// Grounded directly on internal/dag/state.go + internal/dag/state_machine.go:
// same TaskState/Transition/IsTerminal shape, generalized from the teacher's
// six DAG-task states to the spec's node-status vocabulary and from
// downstream-DAG-reachability to ancestor/descendant tree walks.
package tree

import "fmt"

// NodeStatus is the runtime execution state of a dynamic node (spec §3).
type NodeStatus string

const (
	StatusPending     NodeStatus = "pending"
	StatusRunning     NodeStatus = "running"
	StatusEnd         NodeStatus = "end"
	StatusError       NodeStatus = "error"
	StatusSkipped     NodeStatus = "skipped"
	StatusConditional NodeStatus = "conditional"
	StatusErrorChild  NodeStatus = "error_child"
	StatusSkippedChild NodeStatus = "skipped_child"
)

// Result is the node's outcome classification, composed from its own
// terminal status plus any accumulated child flags (spec §3, §7).
type Result string

const (
	ResultUnknown      Result = "unknown"
	ResultSuccess      Result = "success"
	ResultErrorSelf    Result = "error_self"
	ResultErrorChild   Result = "error_child"
	ResultSkippedSelf  Result = "skipped_self"
	ResultSkippedChild Result = "skipped_child"
)

// IsTerminal reports whether status is one a node may legitimately hold at
// task end (invariant 1, spec §8).
func IsTerminal(s NodeStatus) bool {
	switch s {
	case StatusEnd, StatusError, StatusSkipped, StatusConditional, StatusErrorChild, StatusSkippedChild:
		return true
	default:
		return false
	}
}

// IsSkipLike reports whether status should cause not-yet-started
// descendants to take the skipped path (spec §4.1's "check_and_change_status").
func IsSkipLike(s NodeStatus) bool {
	switch s {
	case StatusSkipped, StatusError, StatusConditional:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[NodeStatus]map[NodeStatus]bool{
	StatusPending: {
		StatusRunning:     true,
		StatusSkipped:     true,
		StatusConditional: true,
	},
	StatusRunning: {
		StatusEnd:         true,
		StatusError:       true,
		StatusErrorChild:  true,
		StatusSkippedChild: true,
		// An error strategy skips an ancestor that is still running.
		StatusSkipped: true,
		// An `if` step only knows its outcome after Run; a failed
		// condition lands here instead of StatusEnd (spec §4.8).
		StatusConditional: true,
	},
}

// Transition validates and applies a status change, mirroring
// dag.Transition's "expected prior state" contract so races are observable
// instead of silently overwritten.
func Transition(n *DynamicNode, from, to NodeStatus) error {
	if n.Status != from {
		return fmt.Errorf("tree: invalid transition for %q: expected %s, got %s", n.SPI.String(), from, n.Status)
	}
	if !allowedTransitions[from][to] {
		return fmt.Errorf("tree: disallowed transition for %q: %s -> %s", n.SPI.String(), from, to)
	}
	n.Status = to
	return nil
}
