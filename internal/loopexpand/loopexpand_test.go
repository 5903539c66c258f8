package loopexpand

import (
	"testing"

	"execengine/internal/specmodel"
)

func TestExpandTimes(t *testing.T) {
	c := &specmodel.Case{DriveStrategy: specmodel.DriveTimes, Times: 3}
	rows, err := Expand(c, nil, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
}

func TestExpandTimesNegativeClampsToZero(t *testing.T) {
	c := &specmodel.Case{DriveStrategy: specmodel.DriveTimes, Times: -5}
	rows, err := Expand(c, nil, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
}

func TestExpandDatasetFallsBackToDefaultOnFalsyDepend(t *testing.T) {
	lookup := func(datasetID, env string) (map[string]DatasetEnv, bool) {
		return map[string]DatasetEnv{
			"staging": {Depend: false},
			"prod":    {Data: []DatasetRow{{}, {}}, IsDefault: true},
		}, true
	}
	c := &specmodel.Case{DriveStrategy: specmodel.DriveDataset, DatasetID: "ds1", DatasetEnv: "staging"}
	rows, err := Expand(c, lookup, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (fallback to default env)", len(rows))
	}
}

func TestExpandScriptCapsAtMaxGenerateLength(t *testing.T) {
	old := MaxGenerateLength
	defer func() { MaxGenerateLength = old }()
	SetMaxGenerateLength(5)

	scripts := func(scriptID string) (ScriptResult, error) {
		return ScriptResult{IsInt: true, Int: 1000}, nil
	}
	c := &specmodel.Case{DriveStrategy: specmodel.DriveScript, LoopScript: "loop1"}
	rows, err := Expand(c, nil, scripts)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("len(rows) = %d, want capped at 5", len(rows))
	}
}

func TestExpandScriptOtherwiseContributesOne(t *testing.T) {
	scripts := func(scriptID string) (ScriptResult, error) {
		return ScriptResult{}, nil
	}
	c := &specmodel.Case{DriveStrategy: specmodel.DriveScript, LoopScript: "loop1"}
	rows, err := Expand(c, nil, scripts)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
}

func TestExpandDatasetMissingDefaultErrors(t *testing.T) {
	lookup := func(datasetID, env string) (map[string]DatasetEnv, bool) {
		return map[string]DatasetEnv{"staging": {Depend: false}}, true
	}
	c := &specmodel.Case{DriveStrategy: specmodel.DriveDataset, DatasetID: "ds1", DatasetEnv: "staging"}
	if _, err := Expand(c, lookup, nil); err == nil {
		t.Fatalf("expected error when no default row-set exists")
	}
}
