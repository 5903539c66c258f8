package nodeexec

import (
	"context"

	"execengine/internal/sandbox"
	"execengine/internal/tree"
)

// ScriptVMFactory constructs a fresh sandbox.VM scoped to one node's
// capability surface (variable handle, position introspection, etc.).
type ScriptVMFactory func(node *tree.DynamicNode) (*sandbox.VM, error)

// ScriptExecutor runs a `script` step's body inside the sandbox (spec
// §4.4, §5, §9).
type ScriptExecutor struct {
	NewVM ScriptVMFactory
}

func (e ScriptExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	vm, err := e.NewVM(node)
	if err != nil {
		return nil, &FailedStepError{Type: EventSystemException, Message: err.Error()}
	}

	if _, err := vm.RunExpr(node.Step.ScriptBody); err != nil {
		if _, ok := err.(*sandbox.ErrDenylisted); ok {
			return nil, &FailedStepError{Type: EventSystemException, Message: err.Error()}
		}
		return nil, &FailedStepError{Type: EventErrorStepFailed, Message: err.Error()}
	}

	return &CoreExecReturn{Events: []ProcessObject{{Type: EventStepRunning, SPI: node.SPI.String()}}}, nil
}
