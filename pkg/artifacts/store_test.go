package artifacts

import (
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("# artifact\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestClassifyPure(t *testing.T) {
	tests := []struct {
		prd, plan bool
		want      Stage
	}{
		{false, false, StageNotStarted},
		{false, true, StageNotStarted},
		{true, false, StagePRDComplete},
		{true, true, StageComplete},
	}
	for _, tt := range tests {
		if got := Classify(tt.prd, tt.plan); got != tt.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tt.prd, tt.plan, got, tt.want)
		}
	}
}

func TestStoreClassify(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if got := s.Classify("7"); got != StageNotStarted {
		t.Fatalf("empty store: got %s", got)
	}

	writeArtifact(t, s.PRDPath("7"))
	if got := s.Classify("7"); got != StagePRDComplete {
		t.Fatalf("prd only: got %s", got)
	}

	writeArtifact(t, s.PlanPath("7"))
	if got := s.Classify("7"); got != StageComplete {
		t.Fatalf("both artifacts: got %s", got)
	}
}

func TestExistsIgnoresDirectories(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	// A directory where the artifact should be does not count.
	if err := os.MkdirAll(s.PRDPath("9"), 0755); err != nil {
		t.Fatal(err)
	}
	if s.PRDExists("9") {
		t.Fatal("directory should not count as an artifact")
	}
}

func TestReadPRD(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if _, err := s.ReadPRD("missing"); err == nil {
		t.Fatal("expected error for missing prd")
	}

	writeArtifact(t, s.PRDPath("42"))
	content, err := s.ReadPRD("42")
	if err != nil {
		t.Fatalf("ReadPRD failed: %v", err)
	}
	if content == "" {
		t.Fatal("expected non-empty prd content")
	}
}
