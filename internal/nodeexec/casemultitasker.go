package nodeexec

import (
	"context"

	"execengine/internal/loopexpand"
	"execengine/internal/specmodel"
	"execengine/internal/tree"
)

// ChildBuilder constructs and registers the dynamic child nodes a case or
// multitasker step's drive definition expands into, one per loopexpand.DatasetRow
// produced. It is supplied by the engine orchestration package, which owns
// the node Registry and knows how to recurse into a child's own steps.
type ChildBuilder func(ctx context.Context, node *tree.DynamicNode, rows []loopexpand.DatasetRow) error

// CaseExecutor expands a nested case step's drive definition into child
// cases and hands them to Build.
type CaseExecutor struct {
	Datasets loopexpand.DatasetLookup
	Scripts  loopexpand.ScriptEvaluator
	Build    ChildBuilder
}

func (e CaseExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	return runDrive(ctx, node, node.Step.Drive, e.Datasets, e.Scripts, e.Build)
}

// MultitaskerExecutor is CaseExecutor's sibling for multitasker steps; the
// drive-expansion rules are identical (spec §4.3), only the resulting
// children's Category differs (child_multitasker instead of
// child_step_case).
type MultitaskerExecutor struct {
	Datasets loopexpand.DatasetLookup
	Scripts  loopexpand.ScriptEvaluator
	Build    ChildBuilder
}

func (e MultitaskerExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	return runDrive(ctx, node, node.Step.Drive, e.Datasets, e.Scripts, e.Build)
}

func runDrive(ctx context.Context, node *tree.DynamicNode, drive *specmodel.Case, datasets loopexpand.DatasetLookup, scripts loopexpand.ScriptEvaluator, build ChildBuilder) (*CoreExecReturn, error) {
	if drive == nil {
		return &CoreExecReturn{Events: []ProcessObject{{Type: EventStepRunning, SPI: node.SPI.String()}}}, nil
	}
	rows, err := loopexpand.Expand(drive, datasets, scripts)
	if err != nil {
		return nil, &FailedStepError{Type: EventVariableException, Message: err.Error()}
	}
	if err := build(ctx, node, rows); err != nil {
		return nil, &FailedStepError{Type: EventSystemException, Message: err.Error()}
	}
	return &CoreExecReturn{Events: []ProcessObject{{Type: EventStepRunning, SPI: node.SPI.String()}}}, nil
}
