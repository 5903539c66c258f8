// Package errorstrategy implements the ancestor-walk error-propagation
// engine: on a failed step it walks from the failing node upward, selects
// the effective error strategy, and mutates the status of exactly one
// target ancestor to skipped (spec §4.5).
//
// Grounded on internal/dag/state_machine.go's FailAndPropagate: the
// teacher's function is a downstream-reachability walk over a DAG that
// marks a whole subtree FAILED/SKIPPED in one pass. This package keeps the
// teacher's walk-and-mark shape but inverts direction (upward, via parent
// pointers, not downward over graph edges) and narrows the target to a
// single node rather than a reachable set — the scheduler's own
// check_and_change_status (see internal/scheduler) is what turns that one
// status mutation into the transitive skip of not-yet-started descendants.
package errorstrategy

import (
	"fmt"

	"execengine/internal/specmodel"
	"execengine/internal/tree"
)

// Apply walks upward from the failing node, resolves the effective error
// strategy, and transitions the chosen target node to skipped. The failing
// node decides only when it declares its own strategy; otherwise the walk
// starts deciding at its parent. It returns the target node so the caller
// can emit the corresponding telemetry event.
func Apply(failing *tree.DynamicNode, globalStrategy specmodel.ErrorStrategy) (*tree.DynamicNode, error) {
	var lastMultitaskerChild *tree.DynamicNode // most recent child_multitasker seen while walking

	node := failing
	depth := 0
	for node != nil {
		depth++
		if node.Category == tree.CategoryChildMultitasker {
			lastMultitaskerChild = node
		}

		if node == failing && node.ErrorStrategy == "" {
			node = node.Parent
			continue
		}

		strategy := effectiveStrategy(node, globalStrategy)

		switch strategy {
		case specmodel.ErrRaise:
			node = node.Parent
			continue
		case specmodel.ErrRefCaseInner:
			// Defer to this same node's case_error_strategy; if that is also
			// raise, keep walking from here.
			inner := node.ErrorStrategy
			if inner == specmodel.ErrRaise || inner == "" {
				node = node.Parent
				continue
			}
			target, err := resolveTarget(inner, node, lastMultitaskerChild)
			if err != nil {
				return nil, err
			}
			return target, skip(target)
		default:
			target, err := resolveTarget(strategy, node, lastMultitaskerChild)
			if err != nil {
				return nil, err
			}
			return target, skip(target)
		}
	}

	return nil, fmt.Errorf("errorstrategy: walk exhausted ancestors (depth %d) without a decision point", depth)
}

// effectiveStrategy returns node's own strategy, or the global strategy if
// the node does not declare one.
func effectiveStrategy(node *tree.DynamicNode, global specmodel.ErrorStrategy) specmodel.ErrorStrategy {
	if node.ErrorStrategy != "" {
		return node.ErrorStrategy
	}
	return global
}

// resolveTarget maps an effective (non-raise, non-deferring) strategy to its
// target node per the §4.5 table.
func resolveTarget(strategy specmodel.ErrorStrategy, node, lastMultitaskerChild *tree.DynamicNode) (*tree.DynamicNode, error) {
	switch strategy {
	case specmodel.ErrTask:
		return rootOf(node), nil
	case specmodel.ErrCurrentStep:
		return nil, nil // no-op: only the failing step itself is marked
	case specmodel.ErrCase:
		return mainOrInnerCase(node), nil
	case specmodel.ErrCurrentCase:
		return mainOrInnerChildCase(node), nil
	case specmodel.ErrMultitasker:
		if lastMultitaskerChild == nil || lastMultitaskerChild.Parent == nil {
			return nil, fmt.Errorf("errorstrategy: multitasker strategy with no enclosing multitasker iterator")
		}
		return lastMultitaskerChild.Parent, nil
	case specmodel.ErrCurrentMultitasker:
		if lastMultitaskerChild == nil {
			return nil, fmt.Errorf("errorstrategy: current_multitasker strategy with no multitasker iterator in walk")
		}
		return lastMultitaskerChild, nil
	case specmodel.ErrRefChildCase:
		return nearestCategory(node, tree.CategoryChildStepCase), nil
	case specmodel.ErrRefCase:
		return nearestInnerCase(node), nil
	default:
		return nil, fmt.Errorf("errorstrategy: unhandled effective strategy %q", strategy)
	}
}

func skip(target *tree.DynamicNode) error {
	if target == nil {
		return nil // current_step: no-op
	}
	if tree.IsTerminal(target.Status) {
		return nil // already settled; nothing to do
	}
	return tree.Transition(target, target.Status, tree.StatusSkipped)
}

func rootOf(n *tree.DynamicNode) *tree.DynamicNode {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// mainOrInnerCase implements the `case` row: main Case when not in_case;
// else the inner case if its strategy is ref_case_inner, otherwise the
// main case.
func mainOrInnerCase(n *tree.DynamicNode) *tree.DynamicNode {
	inner := nearestInnerCase(n)
	if inner == nil || !inner.InCase {
		return nearestMainCase(n)
	}
	if inner.ErrorStrategy == specmodel.ErrRefCaseInner {
		return inner
	}
	return nearestMainCase(n)
}

// mainOrInnerChildCase implements the `current_case` row analogously, one
// category level down (ChildStepCase vs. main ChildCase).
func mainOrInnerChildCase(n *tree.DynamicNode) *tree.DynamicNode {
	inner := nearestInnerCase(n)
	innerChildCase := nearestCategory(n, tree.CategoryChildStepCase)
	if inner != nil && inner.InCase && inner.ErrorStrategy == specmodel.ErrRefCaseInner && innerChildCase != nil {
		return innerChildCase
	}
	return nearestCategory(n, tree.CategoryChildCase)
}

func nearestCategory(n *tree.DynamicNode, cat tree.Category) *tree.DynamicNode {
	for c := n; c != nil; c = c.Parent {
		if c.Category == cat {
			return c
		}
	}
	return nil
}

// nearestMainCase finds the outermost (non-InCase) ancestor case node.
func nearestMainCase(n *tree.DynamicNode) *tree.DynamicNode {
	var last *tree.DynamicNode
	for c := n; c != nil; c = c.Parent {
		if c.Category == tree.CategoryCase && !c.InCase {
			last = c
		}
	}
	return last
}

// nearestInnerCase finds the nearest ancestor case node marked InCase.
func nearestInnerCase(n *tree.DynamicNode) *tree.DynamicNode {
	for c := n; c != nil; c = c.Parent {
		if c.Category == tree.CategoryCase && c.InCase {
			return c
		}
	}
	return nil
}
