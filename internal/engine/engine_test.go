package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"execengine/internal/nodeexec"
	"execengine/internal/scheduler"
	"execengine/internal/specmodel"
	"execengine/internal/tree"
	"execengine/internal/vars"
)

func newTestEngine() *Engine {
	return &Engine{
		Gate:     scheduler.NewGate(4),
		Registry: nodeexec.Registry{specmodel.KindEmpty: nodeexec.EmptyExecutor{}},
		Logger:   zerolog.Nop(),
	}
}

func simpleSubmission() specmodel.Submission {
	mapping := specmodel.NewStepMapping()
	mapping.Add("case1", &specmodel.Step{ID: "step1", Type: specmodel.KindEmpty})

	return specmodel.Submission{
		TaskInfo: specmodel.TaskSpec{
			TaskID:              "task1",
			MainCaseID:          "case1",
			GlobalErrorStrategy: specmodel.ErrCurrentStep,
			RecordBackupIndex:   "rec1",
		},
		Cases: map[string]*specmodel.Case{
			"case1": {ID: "case1", StepIDs: []string{"step1"}, LoopSequential: true},
		},
		ChildCases: map[string][]*specmodel.ChildCase{
			"case1": {{ID: "cc0", CaseID: "case1", Index: 0}},
		},
		StepMapping: mapping,
	}
}

func TestRunStartDrivesChildCaseToEnd(t *testing.T) {
	eng := newTestEngine()
	sub := simpleSubmission()

	r := &run{
		eng:    eng,
		sub:    sub,
		nodes:  tree.NewRegistry(),
		global: vars.NewGlobalStore(),
	}
	r.start(context.Background())

	taskNode, ok := r.nodes.Lookup((tree.StaticPathIndex{TaskID: "task1"}).String())
	if !ok {
		t.Fatal("expected task node registered")
	}
	if taskNode.Status != tree.StatusEnd {
		t.Fatalf("task status = %q, want end", taskNode.Status)
	}
	if len(taskNode.Children) != 1 {
		t.Fatalf("expected 1 case child, got %d", len(taskNode.Children))
	}

	caseNode := taskNode.Children[0]
	if caseNode.Status != tree.StatusEnd {
		t.Fatalf("case status = %q, want end", caseNode.Status)
	}
	if caseNode.Result != tree.ResultSuccess {
		t.Fatalf("case result = %q, want success", caseNode.Result)
	}
	if len(caseNode.Children) != 1 {
		t.Fatalf("expected 1 child case, got %d", len(caseNode.Children))
	}
	childCase := caseNode.Children[0]
	if childCase.Status != tree.StatusEnd {
		t.Fatalf("child case status = %q, want end", childCase.Status)
	}
	if len(childCase.Children) != 1 || childCase.Children[0].Status != tree.StatusEnd {
		t.Fatalf("expected step child to reach end, got %+v", childCase.Children)
	}
}

func TestSubmitAssignsTaskIDWhenMissing(t *testing.T) {
	eng := newTestEngine()
	sub := simpleSubmission()
	sub.TaskInfo.TaskID = ""

	id, err := eng.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated task id")
	}
}
