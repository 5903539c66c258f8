package nodeexec

import (
	"context"
	"testing"

	"execengine/internal/specmodel"
	"execengine/internal/tree"
)

func TestDelayExecutorCoercesOutOfRange(t *testing.T) {
	var slept int
	step := &specmodel.Step{DelayMS: 999999}
	node := &tree.DynamicNode{Step: step}
	exec := DelayExecutor{Sleep: func(ms int) { slept = ms }}

	res, err := exec.Run(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slept != 0 {
		t.Fatalf("slept = %d, want 0", slept)
	}
	if len(res.Events) != 1 || res.Events[0].Type != EventDelayWarning {
		t.Fatalf("expected delay warning event, got %+v", res.Events)
	}
}

func TestErrorExecutorRaisesWhenConfigured(t *testing.T) {
	step := &specmodel.Step{IsRaiseStep: true, ErrorMessage: "boom"}
	node := &tree.DynamicNode{Step: step}
	_, err := ErrorExecutor{}.Run(context.Background(), node, nil)
	if err == nil {
		t.Fatalf("expected error from raise step")
	}
	fse, ok := err.(*FailedStepError)
	if !ok || fse.Type != EventErrorStepFailed {
		t.Fatalf("got %v, want FailedStepError{error_step_failed}", err)
	}
}

func TestIfExecutorPassAndFail(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "n" {
			return "2", true
		}
		return "", false
	}
	step := &specmodel.Step{IfKey: "{{n}}", IfValue: "2", Pattern: "eq"}
	node := &tree.DynamicNode{Step: step}
	exec := IfExecutor{Lookup: lookup}

	res, err := exec.Run(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Events[0].Type != EventIfSuccess {
		t.Fatalf("expected if_success, got %+v", res.Events)
	}

	step2 := &specmodel.Step{IfKey: "{{n}}", IfValue: "1", Pattern: "eq"}
	node2 := &tree.DynamicNode{Step: step2}
	res2, err := exec.Run(context.Background(), node2, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res2.Events[0].Type != EventIfFailed {
		t.Fatalf("expected if_failed, got %+v", res2.Events)
	}
}

func TestAssertionExecutorNoPriorInterfaceFails(t *testing.T) {
	step := &specmodel.Step{AssertMode: "LAST_INTERFACE", AssertRange: "body", BodyRange: "pattern", JSONPath: "$.ok", Pattern: "eq", ExpectedValue: "true"}
	node := &tree.DynamicNode{Step: step}
	_, err := AssertionExecutor{}.Run(context.Background(), node, nil)
	if err == nil {
		t.Fatalf("expected assertion exception with no prior interface result")
	}
}

func TestAssertionExecutorSuccess(t *testing.T) {
	step := &specmodel.Step{AssertMode: "LAST_INTERFACE", AssertRange: "body", BodyRange: "pattern", JSONPath: "ok", Pattern: "eq", ExpectedValue: "true"}
	parent := &tree.DynamicNode{InterfaceLastNode: &tree.InterfaceResult{Body: []byte(`{"ok": true}`)}}
	node := &tree.DynamicNode{Step: step, Parent: parent}

	res, err := AssertionExecutor{}.Run(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Events[0].Type != EventAssertionSuccess {
		t.Fatalf("expected assertion_success, got %+v", res.Events)
	}
}

func TestRegistryDispatchUnknownKindFails(t *testing.T) {
	reg := Registry{}
	node := &tree.DynamicNode{Step: &specmodel.Step{Type: specmodel.KindInterface}}
	_, err := reg.Dispatch(context.Background(), node, nil)
	if err == nil {
		t.Fatalf("expected error for unregistered step kind")
	}
}

func TestRegistryDispatchNilStepIsNoop(t *testing.T) {
	reg := Registry{}
	node := &tree.DynamicNode{}
	res, err := reg.Dispatch(context.Background(), node, nil)
	if err != nil || res != nil {
		t.Fatalf("expected nil,nil for a pure virtual container node, got %v, %v", res, err)
	}
}
