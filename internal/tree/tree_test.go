package tree

import "testing"

func TestTransitionValid(t *testing.T) {
	n := &DynamicNode{Status: StatusPending}
	if err := Transition(n, StatusPending, StatusRunning); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if n.Status != StatusRunning {
		t.Fatalf("status = %s, want running", n.Status)
	}
}

func TestTransitionRejectsWrongFrom(t *testing.T) {
	n := &DynamicNode{Status: StatusPending}
	if err := Transition(n, StatusRunning, StatusEnd); err == nil {
		t.Fatalf("expected error for mismatched from-state")
	}
}

func TestTransitionRejectsDisallowed(t *testing.T) {
	n := &DynamicNode{Status: StatusPending}
	if err := Transition(n, StatusPending, StatusEnd); err == nil {
		t.Fatalf("expected error: pending cannot go straight to end")
	}
}

func TestNewNodeCheckNoneStartsSkipped(t *testing.T) {
	n := NewNode(StaticPathIndex{}, nil, nil, "none")
	if n.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", n.Status)
	}
}

func TestAncestorCategoriesSkipLike(t *testing.T) {
	root := &DynamicNode{Status: StatusSkipped}
	child := &DynamicNode{Status: StatusPending, Parent: root}
	if !AncestorCategories(child) {
		t.Fatalf("expected ancestor skip-like state to be detected")
	}
}

func TestComposeResultErrorChildPropagates(t *testing.T) {
	n := &DynamicNode{Status: StatusEnd, HasChildError: true}
	if got := ComposeResult(n); got != ResultErrorChild {
		t.Fatalf("ComposeResult = %s, want error_child", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	spi := StaticPathIndex{TaskID: "t", CaseID: "c"}
	n1 := NewNode(spi, nil, nil, "")
	n2 := NewNode(spi, nil, nil, "")
	if err := reg.Register(n1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(n2); err == nil {
		t.Fatalf("expected duplicate SPI registration to fail")
	}
}

func TestSPIChildBreadcrumb(t *testing.T) {
	root := StaticPathIndex{TaskID: "t1", CaseID: "c1", ChildCaseIdx: 0}
	child := root.Child("s1")
	grandchild := child.Child("s2")
	if grandchild.ParentStepID != "s1" {
		t.Fatalf("ParentStepID = %q, want s1", grandchild.ParentStepID)
	}
	if len(grandchild.PositionList) != 2 {
		t.Fatalf("PositionList = %v, want length 2", grandchild.PositionList)
	}
}
