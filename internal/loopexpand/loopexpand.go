// Package loopexpand converts a Case or Multitasker's drive specification
// (fixed-count / dataset / script) into virtual child subtrees (spec §4.3).
//
// Grounded on internal/dag/taskgraph.go's canonicalization discipline
// (stable, deterministic ordering of synthesized nodes) applied here to
// runtime-synthesized children instead of a static graph's node list.
package loopexpand

import (
	"fmt"
	"sort"

	"execengine/internal/specmodel"
)

// MaxGenerateLength caps dataset and script-driven loop sizes (spec §8
// boundary case, configured from MAX_GENERATE_LENGTH).
var MaxGenerateLength = 512

// SetMaxGenerateLength configures the cap.
func SetMaxGenerateLength(n int) {
	if n > 0 {
		MaxGenerateLength = n
	}
}

// DatasetRow is one row of drive data, either from a dataset lookup or
// synthesized as an empty row for times/script-sized expansion.
type DatasetRow struct {
	Variables map[string]any
}

// DatasetEnv is one environment's dataset entry: its row data plus whether
// the drive uses those rows (Depend true) or falls back to the rows of the
// environment marked IsDefault (Depend false) (spec §4.3).
type DatasetEnv struct {
	Data      []DatasetRow
	Depend    bool
	IsDefault bool
}

// DatasetLookup resolves (datasetID, env) -> that environment's rows, as
// found in GlobalCache.origin_dataset_mapping.
type DatasetLookup func(datasetID, env string) (map[string]DatasetEnv, bool)

// ScriptEvaluator executes a loop script (via internal/sandbox) and
// returns its raw result for normalization. Kept as an interface here so
// loopexpand does not import internal/sandbox directly.
type ScriptEvaluator func(scriptID string) (ScriptResult, error)

// ScriptResult is the normalized shape loopexpand needs from a loop
// script's return value; internal/sandbox is responsible for mapping a
// goja.Value onto this.
type ScriptResult struct {
	// Rows is set when the script returned a DataSet: its rows contribute
	// directly (spec §4.3).
	Rows []DatasetRow
	// IsInt marks an integer-like return value; Int holds its magnitude.
	IsInt bool
	Int   int
	// IsSized marks any other sized value (e.g. an array/string); Len holds
	// its length.
	IsSized bool
	Len     int
}

// Expand produces the drive data rows for a Case/Multitasker, according to
// its DriveStrategy. dataset/script lookups are supplied by the caller so
// this package stays decoupled from GlobalCache/sandbox concerns.
func Expand(c *specmodel.Case, datasets DatasetLookup, scripts ScriptEvaluator) ([]DatasetRow, error) {
	switch c.DriveStrategy {
	case specmodel.DriveTimes:
		return expandTimes(c.Times), nil
	case specmodel.DriveDataset:
		return expandDataset(c.DatasetID, c.DatasetEnv, datasets)
	case specmodel.DriveScript:
		return expandScript(c.LoopScript, scripts)
	default:
		return nil, fmt.Errorf("loopexpand: unknown drive strategy %q", c.DriveStrategy)
	}
}

func expandTimes(n int) []DatasetRow {
	if n < 0 {
		n = 0
	}
	rows := make([]DatasetRow, n)
	for i := range rows {
		rows[i] = DatasetRow{Variables: map[string]any{}}
	}
	return rows
}

func expandDataset(datasetID, env string, lookup DatasetLookup) ([]DatasetRow, error) {
	if lookup == nil {
		return nil, fmt.Errorf("loopexpand: dataset drive requires a DatasetLookup")
	}
	envs, ok := lookup(datasetID, env)
	if !ok {
		return nil, fmt.Errorf("loopexpand: unknown dataset %q", datasetID)
	}
	entry, ok := envs[env]
	if !ok {
		return nil, fmt.Errorf("loopexpand: dataset %q has no entry for env %q", datasetID, env)
	}
	if entry.Depend {
		return capRows(entry.Data), nil
	}
	// Falsy depend: fall back to the default-env row-set. When several envs
	// are marked default, the one whose env name sorts first wins, so the
	// choice does not depend on Go map iteration order.
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if candidate := envs[name]; candidate.IsDefault {
			return capRows(candidate.Data), nil
		}
	}
	return nil, fmt.Errorf("loopexpand: dataset %q env %q depends on a default row-set but none is marked default", datasetID, env)
}

func capRows(rows []DatasetRow) []DatasetRow {
	if len(rows) > MaxGenerateLength {
		return rows[:MaxGenerateLength]
	}
	return rows
}

func expandScript(scriptID string, scripts ScriptEvaluator) ([]DatasetRow, error) {
	if scripts == nil {
		return nil, fmt.Errorf("loopexpand: script drive requires a ScriptEvaluator")
	}
	result, err := scripts(scriptID)
	if err != nil {
		return nil, fmt.Errorf("loopexpand: loop script %q failed: %w", scriptID, err)
	}

	switch {
	case result.Rows != nil:
		return capRows(result.Rows), nil
	case result.IsInt:
		n := result.Int
		if n < 0 {
			n = -n
		}
		if n > MaxGenerateLength {
			n = MaxGenerateLength
		}
		return expandTimes(n), nil
	case result.IsSized:
		n := result.Len
		if n > MaxGenerateLength {
			n = MaxGenerateLength
		}
		return expandTimes(n), nil
	default:
		return expandTimes(1), nil
	}
}
