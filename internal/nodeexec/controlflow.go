package nodeexec

import (
	"context"

	"execengine/internal/template"
	"execengine/internal/tree"
)

// GroupExecutor runs a `group` step: pure sequencing, no leaf behavior of
// its own (spec §4.2: its children are the referenced step ids).
type GroupExecutor struct{}

func (GroupExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	return &CoreExecReturn{Events: []ProcessObject{{Type: EventStepRunning, SPI: node.SPI.String()}}}, nil
}

// EmptyExecutor runs an `empty` step: a structural no-op.
type EmptyExecutor struct{}

func (EmptyExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	return &CoreExecReturn{}, nil
}

// DelayExecutor sleeps for the step's configured duration, coercing an
// out-of-range value to 0 with a warning event (spec §4.8, §8).
type DelayExecutor struct {
	// Sleep is injected so tests don't actually block; defaults to
	// time.Sleep in production wiring.
	Sleep func(ms int)
}

func (d DelayExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	ms := node.Step.DelayMS
	var events []ProcessObject
	if ms < 0 || ms > 99999 {
		events = append(events, ProcessObject{Type: EventDelayWarning, SPI: node.SPI.String(), Message: "delay out of [0, 99999], coerced to 0"})
		ms = 0
	}
	if d.Sleep != nil {
		d.Sleep(ms)
	}
	return &CoreExecReturn{Events: events}, nil
}

// ErrorExecutor runs an explicit user-raised `error` step (spec §4.8, §7):
// it always fails unless is_raise_step is false (a no-op marker form).
type ErrorExecutor struct{}

func (ErrorExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	if !node.Step.IsRaiseStep {
		return &CoreExecReturn{Events: []ProcessObject{{Type: EventErrorStepSuccess, SPI: node.SPI.String()}}}, nil
	}
	return nil, &FailedStepError{Type: EventErrorStepFailed, Message: node.Step.ErrorMessage}
}

// IfLookup resolves a template-rendered key to its value via the node's
// variable handle; nodeexec stays decoupled from internal/vars by taking
// this as a closure.
type IfLookup func(name string) (string, bool)

// IfExecutor evaluates a conditional: on failure it sets the node's status
// to `conditional` (via the caller, based on this result) so its children
// are uniformly skipped without being recorded as errors (spec §4.8).
type IfExecutor struct {
	Lookup IfLookup
}

// IfOutcome reports whether the condition held, so the caller can decide
// whether to transition the node to StatusConditional.
type IfOutcome struct {
	Passed bool
}

func (e IfExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	key := template.Resolve(node.Step.IfKey, e.Lookup)
	value := template.Resolve(node.Step.IfValue, e.Lookup)

	passed := evalPattern(node.Step.Pattern, key, value)
	if passed {
		return &CoreExecReturn{Events: []ProcessObject{{Type: EventIfSuccess, SPI: node.SPI.String()}}}, nil
	}
	return &CoreExecReturn{Events: []ProcessObject{{Type: EventIfFailed, SPI: node.SPI.String()}}}, nil
}

func evalPattern(pattern, key, value string) bool {
	switch pattern {
	case "eq", "":
		return key == value
	case "ne":
		return key != value
	default:
		return key == value
	}
}
