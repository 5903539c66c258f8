package nodeexec

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"execengine/internal/tree"
)

// InterfaceExecutor runs an `interface` (HTTP) step using a shared,
// pooled *resty.Client (spec §4.7's lifecycle-owned session). It publishes
// its last result on the node's parent for use by a downstream assertion
// step (spec §4.8).
type InterfaceExecutor struct {
	Client *resty.Client
}

func (e InterfaceExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	step := node.Step
	req := e.Client.R().SetContext(ctx)
	resp, err := req.Execute(step.Method, step.URL)

	detailID := uuid.NewString()
	if err != nil {
		return nil, &FailedStepError{Type: EventInterfaceException, Message: err.Error()}
	}

	result := &tree.InterfaceResult{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Headers:    resp.Header(),
	}
	if node.Parent != nil {
		node.Parent.InterfaceLastNode = result
	}
	node.InterfaceLastNode = result

	eventType := EventStepRunning
	if resp.IsError() {
		eventType = EventInterfaceErrorFinish
	}

	return &CoreExecReturn{Events: []ProcessObject{{Type: eventType, SPI: node.SPI.String(), DetailUUID: detailID}}}, nil
}
