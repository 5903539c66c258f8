// Package engine is the run orchestrator: it turns a decomposed
// specmodel.Submission into a dynamic tree, drives every node through
// internal/scheduler, and reports outcomes through internal/telemetry.
//
// Grounded on internal/dag/executor.go's top-level Execute (build graph,
// then RunSerial/RunParallel stage by stage), generalized from a static
// precomputed DAG to a tree that grows during execution as case and
// multitasker steps expand their loop drives.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"execengine/internal/errorstrategy"
	"execengine/internal/lifecycle"
	"execengine/internal/loopexpand"
	"execengine/internal/nodeexec"
	"execengine/internal/scheduler"
	"execengine/internal/specmodel"
	"execengine/internal/telemetry"
	"execengine/internal/tree"
	"execengine/internal/vars"
)

// Engine owns the node registry, concurrency gate, executor dispatch
// table and telemetry writer for a single process.
type Engine struct {
	Gate     *scheduler.Gate
	Registry nodeexec.Registry
	Writer   *telemetry.Writer
	Logger   zerolog.Logger

	// Supervisor is optional: when set, every run announces start/end to
	// the orchestrator and exports its telemetry backup on completion
	// (spec §4.7). Nil in tests that don't exercise the RPC lifecycle.
	Supervisor *lifecycle.Supervisor

	Datasets loopexpand.DatasetLookup
	Scripts  loopexpand.ScriptEvaluator
}

// Submit starts a task asynchronously and returns its task id immediately,
// matching /execute's fire-and-forget contract (spec §3).
func (e *Engine) Submit(ctx context.Context, sub specmodel.Submission) (string, error) {
	taskID := sub.TaskInfo.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	sub.TaskInfo.TaskID = taskID

	run := &run{
		eng:    e,
		sub:    sub,
		nodes:  tree.NewRegistry(),
		keys:   telemetry.Keys{RecordBackupIndex: sub.TaskInfo.RecordBackupIndex},
		global: vars.NewGlobalStore(),
	}
	go run.start(context.Background())
	return taskID, nil
}

// run carries the mutable state of one in-flight task.
type run struct {
	eng    *Engine
	sub    specmodel.Submission
	nodes  *tree.Registry
	keys   telemetry.Keys
	global *vars.GlobalStore
}

func (r *run) start(ctx context.Context) {
	taskSPI := tree.StaticPathIndex{TaskID: r.sub.TaskInfo.TaskID}
	taskNode := tree.NewNode(taskSPI, nil, nil, "")
	taskNode.Category = tree.CategoryTask
	if err := r.nodes.Register(taskNode); err != nil {
		r.eng.Logger.Error().Err(err).Msg("engine: duplicate task node")
		return
	}
	taskNode.Status = tree.StatusRunning

	if r.eng.Supervisor != nil {
		if err := r.eng.Supervisor.StartTask(ctx, r.sub.TaskInfo.TaskID, r.sub.TaskInfo.RecordBackupIndex); err != nil {
			r.eng.Logger.Warn().Err(err).Msg("engine: start_task rpc failed")
		}
	}

	mainCase, ok := r.sub.Cases[r.sub.TaskInfo.MainCaseID]
	if !ok {
		r.eng.Logger.Error().Str("case_id", r.sub.TaskInfo.MainCaseID).Msg("engine: main case not found in submission")
		taskNode.Status = tree.StatusError
		return
	}

	caseSPI := taskSPI
	caseSPI.CaseID = mainCase.ID
	caseNode := tree.NewNode(caseSPI, nil, taskNode, "")
	caseNode.Category = tree.CategoryCase
	caseNode.ErrorStrategy = mainCase.ErrorStrategy
	if err := r.nodes.Register(caseNode); err != nil {
		r.eng.Logger.Error().Err(err).Msg("engine: duplicate case node")
		return
	}
	taskNode.Children = append(taskNode.Children, caseNode)

	r.appendSummaryEvent(ctx, nodeexec.EventTaskStart, taskSPI.String())

	if err := tree.Transition(caseNode, tree.StatusPending, tree.StatusRunning); err != nil {
		r.eng.Logger.Error().Err(err).Msg("engine: case node transition to running failed")
	}
	r.runChildCases(ctx, caseNode, mainCase, false)
	if err := tree.Transition(caseNode, tree.StatusRunning, tree.StatusEnd); err != nil {
		r.eng.Logger.Error().Err(err).Msg("engine: case node transition to end failed")
	}
	caseNode.Result = tree.ComposeResult(caseNode)
	r.writeCaseStatus(ctx, caseNode)
	if caseNode.Result == tree.ResultErrorSelf || caseNode.Result == tree.ResultErrorChild {
		taskNode.HasChildError = true
	}
	if caseNode.Result == tree.ResultSkippedSelf || caseNode.Result == tree.ResultSkippedChild {
		taskNode.HasChildSkipped = true
	}

	taskNode.Status = tree.StatusEnd
	taskNode.Result = tree.ComposeResult(taskNode)
	r.writeStatus(ctx, r.keys.TaskInfo(), map[string]any{"status": string(taskNode.Result)})
	r.appendSummaryEvent(ctx, nodeexec.EventTaskEnd, taskSPI.String())

	if r.eng.Supervisor != nil {
		live, err := r.eng.Supervisor.EndTask(ctx, r.sub.TaskInfo.TaskID, r.sub.TaskInfo.RecordBackupIndex)
		if err != nil {
			r.eng.Logger.Warn().Err(err).Msg("engine: end_task rpc failed")
			return
		}
		if err := r.eng.Supervisor.Finish(ctx, r.sub.TaskInfo.RecordBackupIndex, live); err != nil {
			r.eng.Logger.Warn().Err(err).Msg("engine: telemetry export/prune failed")
		}
	}
}

// runChildCases expands caseDef's drive strategy (already pre-decomposed
// into r.sub.ChildCases for the main case; loopexpand handles nested
// case/multitasker steps instead) and drives each produced child case
// through the scheduler, sequentially or concurrently per LoopSequential.
func (r *run) runChildCases(ctx context.Context, caseNode *tree.DynamicNode, caseDef *specmodel.Case, isMultitasker bool) {
	childDefs := r.sub.ChildCases[caseDef.ID]
	runners := make([]scheduler.Runner, 0, len(childDefs))
	for i, cc := range childDefs {
		childSPI := caseNode.SPI.WithChildCase(i)
		childNode := tree.NewNode(childSPI, nil, caseNode, "")
		if isMultitasker {
			childNode.Category = tree.CategoryChildMultitasker
		} else {
			childNode.Category = tree.CategoryChildCase
		}
		childNode.TempVariables = cc.TempVariables
		childNode.IsBoundary = true
		childNode.Handle = &vars.Handle{
			Temp:     vars.Chain{vars.NewTempFrame(cc.TempVariables, true)},
			Global:   r.global,
			Writable: true,
		}
		if err := r.nodes.Register(childNode); err != nil {
			r.eng.Logger.Error().Err(err).Msg("engine: duplicate child case node")
			continue
		}
		caseNode.Children = append(caseNode.Children, childNode)
		runners = append(runners, &childCaseRunner{r: r, node: childNode, caseDef: caseDef})
	}

	if caseDef.LoopSequential {
		r.eng.Gate.RunSequentially(ctx, runners)
	} else {
		r.eng.Gate.RunConcurrently(ctx, runners)
	}

	for _, c := range caseNode.Children {
		if c.Result == tree.ResultErrorSelf || c.Result == tree.ResultErrorChild {
			caseNode.HasChildError = true
		}
		if c.Result == tree.ResultSkippedSelf || c.Result == tree.ResultSkippedChild {
			caseNode.HasChildSkipped = true
		}
	}
}

// childCaseRunner drives one child case's ordered step list through the
// scheduler lifecycle (spec §4.1).
type childCaseRunner struct {
	r       *run
	node    *tree.DynamicNode
	caseDef *specmodel.Case
}

func (c *childCaseRunner) Before(ctx context.Context) (scheduler.Pre, bool, error) {
	if scheduler.CheckAndChangeStatus(c.node) {
		return nil, true, nil
	}
	if err := tree.Transition(c.node, tree.StatusPending, tree.StatusRunning); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (c *childCaseRunner) Run(ctx context.Context, pre scheduler.Pre) error {
	for _, stepID := range c.caseDef.StepIDs {
		step, ok := c.r.sub.StepMapping.Lookup(c.caseDef.ID, stepID)
		if !ok {
			continue
		}
		c.r.runStep(ctx, step, c.node)
	}
	return nil
}

func (c *childCaseRunner) After(ctx context.Context, pre scheduler.Pre) error {
	for _, s := range c.node.Children {
		if s.Status == tree.StatusError || s.Status == tree.StatusErrorChild {
			c.node.HasChildError = true
		}
		if s.Status == tree.StatusSkipped || s.Status == tree.StatusSkippedChild || s.Status == tree.StatusConditional {
			c.node.HasChildSkipped = true
		}
	}
	_ = tree.Transition(c.node, tree.StatusRunning, tree.StatusEnd)
	c.node.Result = tree.ComposeResult(c.node)
	c.r.writeChildCaseStatus(ctx, c.node)
	return nil
}

func (c *childCaseRunner) Error(ctx context.Context, pre scheduler.Pre, cause error) error {
	_ = tree.Transition(c.node, tree.StatusRunning, tree.StatusError)
	c.node.Result = tree.ComposeResult(c.node)
	c.r.writeChildCaseStatus(ctx, c.node)
	return nil
}

func (c *childCaseRunner) Skipped(ctx context.Context, pre scheduler.Pre) error {
	c.node.Result = tree.ComposeResult(c.node)
	c.r.writeChildCaseStatus(ctx, c.node)
	return nil
}

// runStep builds a dynamic node for step, drives it through the scheduler,
// and recurses into any children the node's executor builds (case and
// multitasker steps expand their own nested child cases during Run).
func (r *run) runStep(ctx context.Context, step *specmodel.Step, parent *tree.DynamicNode) *tree.DynamicNode {
	spi := parent.SPI.Child(step.ID)
	node := tree.NewNode(spi, step, parent, step.Check)
	node.Category = tree.CategoryStep
	node.Handle = parent.Handle
	if err := r.nodes.Register(node); err != nil {
		r.eng.Logger.Error().Err(err).Msg("engine: duplicate step node")
		return node
	}
	parent.Children = append(parent.Children, node)

	sr := &stepRunner{r: r, node: node, inCase: parent}
	r.eng.Gate.Drive(ctx, sr)
	return node
}

// stepRunner drives one step's leaf lifecycle and classifies failures
// through internal/errorstrategy (spec §4.5).
type stepRunner struct {
	r      *run
	node   *tree.DynamicNode
	inCase *tree.DynamicNode

	// conditional is set by Run when an `if` step's condition fails, so
	// After can land the node on StatusConditional instead of StatusEnd
	// (spec §4.8: a failed if skips its children without being an error).
	conditional bool
}

func (s *stepRunner) Before(ctx context.Context) (scheduler.Pre, bool, error) {
	if scheduler.CheckAndChangeStatus(s.node) {
		return nil, true, nil
	}
	if err := tree.Transition(s.node, tree.StatusPending, tree.StatusRunning); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (s *stepRunner) Run(ctx context.Context, pre scheduler.Pre) error {
	if s.node.Step.Type == specmodel.KindCase || s.node.Step.Type == specmodel.KindMultitasker {
		isMulti := s.node.Step.Type == specmodel.KindMultitasker
		var reg nodeexec.Registry
		if isMulti {
			reg = nodeexec.Registry{specmodel.KindMultitasker: nodeexec.MultitaskerExecutor{
				Datasets: s.r.eng.Datasets, Scripts: s.r.eng.Scripts,
				Build: func(ctx context.Context, node *tree.DynamicNode, rows []loopexpand.DatasetRow) error {
					return s.r.buildDriveChildren(ctx, node, s.node.Step.Drive, rows, true)
				},
			}}
		} else {
			reg = nodeexec.Registry{specmodel.KindCase: nodeexec.CaseExecutor{
				Datasets: s.r.eng.Datasets, Scripts: s.r.eng.Scripts,
				Build: func(ctx context.Context, node *tree.DynamicNode, rows []loopexpand.DatasetRow) error {
					return s.r.buildDriveChildren(ctx, node, s.node.Step.Drive, rows, false)
				},
			}}
		}
		_, err := reg.Dispatch(ctx, s.node, s.inCase)
		return err
	}

	if s.node.Step.Type == specmodel.KindIf {
		reg := nodeexec.Registry{specmodel.KindIf: nodeexec.IfExecutor{Lookup: s.lookup}}
		res, err := reg.Dispatch(ctx, s.node, s.inCase)
		if err != nil {
			return err
		}
		for _, evt := range res.Events {
			if evt.Type == nodeexec.EventIfFailed {
				s.conditional = true
			}
		}
		return nil
	}

	_, err := s.r.eng.Registry.Dispatch(ctx, s.node, s.inCase)
	return err
}

// lookup resolves a variable by name through the step's bound handle,
// stringifying the value for template.Resolve's consumers (if-step key/
// value comparison, spec §4.8).
func (s *stepRunner) lookup(name string) (string, bool) {
	if s.node.Handle == nil {
		return "", false
	}
	v, ok := s.node.Handle.Get(name)
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

func (s *stepRunner) After(ctx context.Context, pre scheduler.Pre) error {
	if s.conditional {
		_ = tree.Transition(s.node, tree.StatusRunning, tree.StatusConditional)
	} else {
		_ = tree.Transition(s.node, tree.StatusRunning, tree.StatusEnd)
	}
	s.node.Result = tree.ComposeResult(s.node)
	s.r.writeStepStatus(ctx, s.node)
	return nil
}

func (s *stepRunner) Error(ctx context.Context, pre scheduler.Pre, cause error) error {
	_ = tree.Transition(s.node, tree.StatusRunning, tree.StatusError)
	s.node.Result = tree.ComposeResult(s.node)

	strategy := s.node.Step.ErrorStrategy
	if strategy == "" {
		strategy = s.r.sub.TaskInfo.GlobalErrorStrategy
	}
	if _, applyErr := errorstrategy.Apply(s.node, strategy); applyErr != nil {
		s.r.eng.Logger.Warn().Err(applyErr).Str("spi", s.node.SPI.String()).Msg("error strategy apply failed")
	}
	s.r.writeStepStatus(ctx, s.node)
	evtType := nodeexec.EventSystemException
	var failed *nodeexec.FailedStepError
	if errors.As(cause, &failed) {
		evtType = failed.Type
	}
	s.r.writeStepProcess(ctx, s.node, nodeexec.ProcessObject{
		Type:    evtType,
		SPI:     s.node.SPI.String(),
		Message: cause.Error(),
	})
	return nil
}

func (s *stepRunner) Skipped(ctx context.Context, pre scheduler.Pre) error {
	s.node.Result = tree.ComposeResult(s.node)
	s.r.writeStepStatus(ctx, s.node)
	return nil
}

// buildDriveChildren is the ChildBuilder passed to nodeexec's case/
// multitasker executors: it registers one dynamic child per expanded row
// and drives them through the scheduler using the drive definition's own
// step list and concurrency preference.
func (r *run) buildDriveChildren(ctx context.Context, node *tree.DynamicNode, drive *specmodel.Case, rows []loopexpand.DatasetRow, isMultitasker bool) error {
	runners := make([]scheduler.Runner, 0, len(rows))
	for i, row := range rows {
		childSPI := node.SPI.WithChildCase(i)
		childNode := tree.NewNode(childSPI, nil, node, "")
		if isMultitasker {
			childNode.Category = tree.CategoryChildMultitasker
		} else {
			childNode.Category = tree.CategoryChildStepCase
		}
		childNode.TempVariables = row.Variables
		childNode.IsBoundary = true

		var parentTemp vars.Chain
		if node.Handle != nil {
			parentTemp = node.Handle.Temp
		}
		childNode.Handle = &vars.Handle{
			Temp:     appendFrame(parentTemp, vars.NewTempFrame(row.Variables, true)),
			Env:      handleEnv(node.Handle),
			Global:   r.global,
			Writable: true,
		}
		if err := r.nodes.Register(childNode); err != nil {
			return err
		}
		node.Children = append(node.Children, childNode)
		runners = append(runners, &childCaseRunner{r: r, node: childNode, caseDef: drive})
	}

	if drive.LoopSequential {
		r.eng.Gate.RunSequentially(ctx, runners)
	} else {
		r.eng.Gate.RunConcurrently(ctx, runners)
	}
	return nil
}

// appendFrame builds a child's temp-scope chain: the new frame first
// (nearest), then the parent chain, copied so that two sibling children
// (built concurrently from the same parent chain) never share a backing
// array slot.
func appendFrame(chain vars.Chain, frame *vars.TempFrame) vars.Chain {
	next := make(vars.Chain, len(chain)+1)
	next[0] = frame
	copy(next[1:], chain)
	return next
}

func handleEnv(h *vars.Handle) *vars.EnvStore {
	if h == nil {
		return nil
	}
	return h.Env
}

func (r *run) writeStepStatus(ctx context.Context, n *tree.DynamicNode) {
	if r.eng.Writer == nil {
		return
	}
	caseID, idx, stepID := coordinatesOf(n)
	key := r.keys.StepStatus(caseID, idx, stepID)
	if err := r.eng.Writer.UpdateStatus(ctx, key, map[string]any{
		"status": string(n.Status),
		"result": string(n.Result),
	}); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

func (r *run) writeStepProcess(ctx context.Context, n *tree.DynamicNode, evt nodeexec.ProcessObject) {
	if r.eng.Writer == nil {
		return
	}
	caseID, idx, stepID := coordinatesOf(n)
	key := r.keys.StepProcess(caseID, idx, stepID)
	if err := r.eng.Writer.AppendProcessEvents(ctx, key, []any{evt}); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

func (r *run) writeCaseStatus(ctx context.Context, n *tree.DynamicNode) {
	if r.eng.Writer == nil {
		return
	}
	key := r.keys.CaseStatus()
	if err := r.eng.Writer.UpdateStatus(ctx, key, map[string]any{
		"status": string(n.Status),
		"result": string(n.Result),
	}); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

// appendSummaryEvent appends a bracket event (task start/end, spec §4.6,
// scenario 1) to the append-only summary process list.
func (r *run) appendSummaryEvent(ctx context.Context, typ nodeexec.ProcessEventType, spi string) {
	if r.eng.Writer == nil {
		return
	}
	key := r.keys.SummaryProcess()
	evt := nodeexec.ProcessObject{Type: typ, SPI: spi}
	if err := r.eng.Writer.AppendProcessEvents(ctx, key, []any{evt}); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

func (r *run) writeChildCaseStatus(ctx context.Context, n *tree.DynamicNode) {
	if r.eng.Writer == nil {
		return
	}
	key := r.keys.ChildCaseStatus(n.SPI.ChildCaseIdx)
	if err := r.eng.Writer.UpdateStatus(ctx, key, map[string]any{
		"status": string(n.Status),
		"result": string(n.Result),
	}); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

func (r *run) writeStatus(ctx context.Context, key string, fields map[string]any) {
	if r.eng.Writer == nil {
		return
	}
	if err := r.eng.Writer.UpdateStatus(ctx, key, fields); err != nil {
		r.eng.Logger.Warn().Err(err).Str("key", key).Msg("telemetry write failed")
	}
}

// coordinatesOf recovers the (case id, child case index, step id) triple
// telemetry keys need from a step node's SPI alone.
func coordinatesOf(n *tree.DynamicNode) (caseID string, childCaseIdx int, stepID string) {
	caseID = n.SPI.CaseID
	childCaseIdx = n.SPI.ChildCaseIdx
	stepID = n.SPI.StepID
	return
}
