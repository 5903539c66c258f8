package nodeexec

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"execengine/internal/specmodel"
	"execengine/internal/tree"
)

// AssertionExecutor evaluates a check against the nearest prior interface
// result (spec §4.8, scenario 3). Only AssertMode=LAST_INTERFACE /
// AssertRange=body / BodyRange=pattern is implemented, matching the single
// end-to-end scenario the spec enumerates; other ranges are reserved.
type AssertionExecutor struct{}

func (AssertionExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	step := node.Step

	if step.AssertMode != "LAST_INTERFACE" {
		return nil, &FailedStepError{Type: EventAssertionException, Message: "unsupported assert mode " + step.AssertMode}
	}

	result := nearestInterfaceResult(node)
	if result == nil {
		return nil, &FailedStepError{Type: EventAssertionException, Message: "no prior interface result in scope"}
	}

	switch step.AssertRange {
	case "body":
		return assertBody(node, step, result)
	default:
		return nil, &FailedStepError{Type: EventAssertionException, Message: "unsupported assert range " + step.AssertRange}
	}
}

// nearestInterfaceResult returns the last interface result published on
// node's parent (LAST_INTERFACE semantics scope it to the enclosing group,
// spec §4.8); results held further up the tree are not consulted.
func nearestInterfaceResult(node *tree.DynamicNode) *tree.InterfaceResult {
	if node.Parent == nil {
		return nil
	}
	return node.Parent.InterfaceLastNode
}

func assertBody(node *tree.DynamicNode, step *specmodel.Step, result *tree.InterfaceResult) (*CoreExecReturn, error) {
	if step.BodyRange != "pattern" {
		return nil, &FailedStepError{Type: EventAssertionException, Message: "unsupported body range " + step.BodyRange}
	}

	actual := gjson.GetBytes(result.Body, step.JSONPath)
	if !actual.Exists() {
		return nil, &FailedStepError{Type: EventAssertionException, Message: "jsonpath " + step.JSONPath + " not found in response body"}
	}

	passed := evalAssertPattern(step.Pattern, actual.String(), step.ExpectedValue)
	if !passed {
		return nil, &FailedStepError{Type: EventAssertionFailed, Message: "expected " + step.ExpectedValue + ", got " + actual.String()}
	}
	return &CoreExecReturn{Events: []ProcessObject{{Type: EventAssertionSuccess, SPI: node.SPI.String()}}}, nil
}

func evalAssertPattern(pattern, actual, expected string) bool {
	switch pattern {
	case "eq", "":
		return actual == expected
	case "ne":
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	default:
		return actual == expected
	}
}
