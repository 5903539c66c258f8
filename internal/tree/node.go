package tree

import (
	"fmt"

	"execengine/internal/specmodel"
	"execengine/internal/vars"
)

// InterfaceResult is the last HTTP result scoped to a node's children, used
// by assertion steps in LAST_INTERFACE mode (spec §3, §4.8).
type InterfaceResult struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Category tags the handful of ancestor kinds the error-strategy engine
// targets (spec §4.5). Every DynamicNode has exactly one category.
type Category string

const (
	CategoryTask            Category = "task"
	CategoryCase            Category = "case"
	CategoryChildCase       Category = "child_case"
	CategoryStep            Category = "step"
	CategoryChildStepCase   Category = "child_step_case"
	CategoryMultitasker     Category = "multitasker"
	CategoryChildMultitasker Category = "child_multitasker"
)

// DynamicNode is a runtime tree node: parent back-pointer (weak — never
// owning, per spec §3 "Ownership"), its children, the associated step
// definition, and volatile state.
//
// Cyclic-reference note (spec §9): Parent is a plain pointer into the
// Registry's node set, not an owning reference; node lifetime is tied to
// the Registry, matching the teacher's registry-indexed-node idiom in
// internal/dag/taskgraph.go (canonical index into a flat node slice) rather
// than a parent-owns-child/child-owns-parent double link.
type DynamicNode struct {
	SPI      StaticPathIndex
	Step     *specmodel.Step // nil for a pure ChildStepCase/ChildMultitasker virtual
	Parent   *DynamicNode
	Children []*DynamicNode

	Category Category
	// ErrorStrategy is this node's own error strategy (for case/multitasker
	// nodes); empty means "inherit the task's global strategy".
	ErrorStrategy specmodel.ErrorStrategy
	// InCase marks an inner case's error strategy as ref_case_inner-eligible
	// (spec §4.5's "in_case" distinction between main and inner cases).
	InCase bool

	Status NodeStatus
	Result Result

	HasChildError   bool
	HasChildSkipped bool

	// InterfaceLastNode is set by the interface node executor (on itself and
	// on its parent); an assertion step reads it from its own parent.
	InterfaceLastNode *InterfaceResult

	// TempVariables seeds this node's temp scope frame when it is a
	// child-case boundary (ChildCase or ChildStepCase).
	TempVariables map[string]any
	IsBoundary    bool

	Handle *vars.Handle
}

// NewNode constructs a pending dynamic node. check == "none" starts the
// node pre-skipped (spec §4.3: "starts in state skipped if check == 'none'
// else pending").
func NewNode(spi StaticPathIndex, step *specmodel.Step, parent *DynamicNode, check string) *DynamicNode {
	status := StatusPending
	if check == "none" {
		status = StatusSkipped
	}
	return &DynamicNode{
		SPI:    spi,
		Step:   step,
		Parent: parent,
		Status: status,
		Result: ResultUnknown,
	}
}

// Registry is the per-run dynamic_mapping: every constructed node keyed by
// its SPI-derived string. Nodes are released with the run (spec §3
// "Lifecycle").
type Registry struct {
	nodes map[string]*DynamicNode
}

// NewRegistry returns an empty per-run node registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*DynamicNode)}
}

// Register adds a node under its SPI key. Re-registering the same key is an
// error: SPIs are supposed to be unique within a run.
func (r *Registry) Register(n *DynamicNode) error {
	key := n.SPI.String()
	if _, exists := r.nodes[key]; exists {
		return fmt.Errorf("tree: duplicate dynamic node for SPI %q", key)
	}
	r.nodes[key] = n
	return nil
}

// Lookup resolves a node by its SPI string.
func (r *Registry) Lookup(spiKey string) (*DynamicNode, bool) {
	n, ok := r.nodes[spiKey]
	return n, ok
}

// All returns every registered node, for invariant checks at task end
// (spec §8, invariant 1).
func (r *Registry) All() []*DynamicNode {
	out := make([]*DynamicNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// AncestorCategories walks from n toward the root and reports whether any
// ancestor (parent, task, case, child-case or other) is currently in a
// skip-like state — the check the scheduler performs immediately after
// `before` (spec §4.1).
func AncestorCategories(n *DynamicNode) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if IsSkipLike(p.Status) {
			return true
		}
	}
	return false
}

// ComposeResult derives a node's Result from its terminal Status and any
// accumulated child flags (spec §3, §7).
func ComposeResult(n *DynamicNode) Result {
	switch n.Status {
	case StatusError:
		return ResultErrorSelf
	case StatusSkipped, StatusConditional:
		return ResultSkippedSelf
	case StatusErrorChild:
		return ResultErrorChild
	case StatusSkippedChild:
		return ResultSkippedChild
	case StatusEnd:
		if n.HasChildError {
			return ResultErrorChild
		}
		if n.HasChildSkipped {
			return ResultSkippedChild
		}
		return ResultSuccess
	default:
		return ResultUnknown
	}
}
