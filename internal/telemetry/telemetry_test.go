package telemetry

import "testing"

func TestBackupFileNameReplacesColons(t *testing.T) {
	got := BackupFileName("task:123:record:456")
	want := "task_123_record_456.json"
	if got != want {
		t.Fatalf("BackupFileName = %q, want %q", got, want)
	}
}

func TestKeysDeriveDeterministically(t *testing.T) {
	k := Keys{RecordBackupIndex: "rec1"}
	if k.TaskInfo() != "rec1:task_info" {
		t.Fatalf("TaskInfo() = %q", k.TaskInfo())
	}
	if k.StepProcess("c1", 2, "s3") != "rec1:step_record:case:c1:child_case:2:step:s3:process" {
		t.Fatalf("StepProcess() = %q", k.StepProcess("c1", 2, "s3"))
	}
	// Same coordinates always derive the same key (invariant 5).
	if k.StepProcess("c1", 2, "s3") != k.StepProcess("c1", 2, "s3") {
		t.Fatalf("StepProcess is not deterministic")
	}
}

func TestScriptSHA1Stable(t *testing.T) {
	a := scriptSHA1([]byte("return 1"))
	b := scriptSHA1([]byte("return 1"))
	if a != b {
		t.Fatalf("scriptSHA1 not deterministic: %q vs %q", a, b)
	}
}
