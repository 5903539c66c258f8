package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStageLocalCopiesContent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "origin.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "dest.txt")

	if err := stageLocal(src, dest); err != nil {
		t.Fatalf("stageLocal: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("dest content = %q, want %q", got, "payload")
	}
}

func TestStageLocalMissingOriginFails(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dest.txt")
	if err := stageLocal(filepath.Join(t.TempDir(), "absent.txt"), dest); err == nil {
		t.Fatal("expected error for missing origin file")
	}
}

func TestStageWritesDistinctExecPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(b, []byte("b"), 0o644)

	s := &Supervisor{}
	staged, err := s.Stage(nil, "task1", []FileMapping{{OriginPath: a}, {OriginPath: b}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged[0].ExecPath == staged[1].ExecPath {
		t.Fatal("expected distinct exec paths per mapping")
	}
	if s.stagingDir == "" {
		t.Fatal("expected stagingDir to be set")
	}
	os.RemoveAll(s.stagingDir)
}
