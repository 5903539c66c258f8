package tree

import (
	"strconv"
	"strings"
)

// StaticPathIndex is the immutable identity of a runtime step, computed from
// (task, case, child-case, step, parent-step) plus a breadcrumb
// PositionList built top-down. Every telemetry key is derived deterministically
// from an SPI (spec §3, invariant 5).
type StaticPathIndex struct {
	TaskID       string
	CaseID       string
	ChildCaseIdx int
	ParentStepID string
	StepID       string
	// PositionList is the top-down breadcrumb of step ids from the root to
	// this node, used to reconstruct ancestry without walking parent
	// pointers against a possibly-released tree.
	PositionList []string
}

// Child derives the SPI for a direct child step, appending to the
// breadcrumb and recording this node's step id as the parent.
func (s StaticPathIndex) Child(stepID string) StaticPathIndex {
	pos := make([]string, len(s.PositionList)+1)
	copy(pos, s.PositionList)
	pos[len(pos)-1] = stepID
	return StaticPathIndex{
		TaskID:       s.TaskID,
		CaseID:       s.CaseID,
		ChildCaseIdx: s.ChildCaseIdx,
		ParentStepID: s.StepID,
		StepID:       stepID,
		PositionList: pos,
	}
}

// WithChildCase derives the SPI for entering a new child-case under the
// same case, resetting the position breadcrumb.
func (s StaticPathIndex) WithChildCase(idx int) StaticPathIndex {
	return StaticPathIndex{
		TaskID:       s.TaskID,
		CaseID:       s.CaseID,
		ChildCaseIdx: idx,
		ParentStepID: "",
		StepID:       s.StepID,
		PositionList: nil,
	}
}

// String renders the SPI as a stable dynamic_mapping key, also used as the
// base for telemetry key derivation (internal/telemetry).
func (s StaticPathIndex) String() string {
	var b strings.Builder
	b.WriteString(s.TaskID)
	b.WriteString(":case:")
	b.WriteString(s.CaseID)
	b.WriteString(":child_case:")
	b.WriteString(strconv.Itoa(s.ChildCaseIdx))
	if len(s.PositionList) > 0 {
		b.WriteString(":step:")
		b.WriteString(strings.Join(s.PositionList, "."))
	}
	return b.String()
}
