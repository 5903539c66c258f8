package errorstrategy

import (
	"testing"

	"execengine/internal/specmodel"
	"execengine/internal/tree"
)

func TestApplyTaskStrategyTargetsRoot(t *testing.T) {
	root := &tree.DynamicNode{Category: tree.CategoryTask, Status: tree.StatusRunning}
	mid := &tree.DynamicNode{Category: tree.CategoryCase, Parent: root, ErrorStrategy: specmodel.ErrTask, Status: tree.StatusRunning}
	failing := &tree.DynamicNode{Category: tree.CategoryStep, Parent: mid, Status: tree.StatusRunning}

	target, err := Apply(failing, specmodel.ErrTask)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if target != root {
		t.Fatalf("target = %v, want root", target)
	}
	if root.Status != tree.StatusSkipped {
		t.Fatalf("root.Status = %s, want skipped", root.Status)
	}
}

func TestApplyCurrentStepIsNoOp(t *testing.T) {
	root := &tree.DynamicNode{Category: tree.CategoryTask, Status: tree.StatusRunning}
	failing := &tree.DynamicNode{Category: tree.CategoryStep, Parent: root, ErrorStrategy: specmodel.ErrCurrentStep, Status: tree.StatusRunning}

	target, err := Apply(failing, specmodel.ErrTask)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if target != nil {
		t.Fatalf("expected nil target for current_step, got %v", target)
	}
	if root.Status != tree.StatusRunning {
		t.Fatalf("root status should be untouched, got %s", root.Status)
	}
}

func TestApplyRaiseKeepsWalking(t *testing.T) {
	root := &tree.DynamicNode{Category: tree.CategoryTask, Status: tree.StatusRunning}
	midRaise := &tree.DynamicNode{Category: tree.CategoryCase, Parent: root, ErrorStrategy: specmodel.ErrRaise, Status: tree.StatusRunning}
	failing := &tree.DynamicNode{Category: tree.CategoryStep, Parent: midRaise, Status: tree.StatusRunning}

	target, err := Apply(failing, specmodel.ErrTask)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if target != root {
		t.Fatalf("raise should pass through to global(task) strategy targeting root, got %v", target)
	}
}

func TestApplyCurrentCaseMainChildCase(t *testing.T) {
	root := &tree.DynamicNode{Category: tree.CategoryTask, Status: tree.StatusRunning}
	childCase := &tree.DynamicNode{Category: tree.CategoryChildCase, Parent: root, Status: tree.StatusRunning}
	caseNode := &tree.DynamicNode{Category: tree.CategoryCase, Parent: childCase, ErrorStrategy: specmodel.ErrCurrentCase, Status: tree.StatusRunning}
	failing := &tree.DynamicNode{Category: tree.CategoryStep, Parent: caseNode, Status: tree.StatusRunning}

	target, err := Apply(failing, specmodel.ErrTask)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if target != childCase {
		t.Fatalf("target = %v, want main child case", target)
	}
}
