// Package artifacts reads the durable planning artifacts the generation
// processes write. The filesystem is the source of truth: when the
// orchestrator has no in-memory entry for a key, artifact existence alone
// classifies its status.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stage classifies a key purely from which artifacts exist on disk.
type Stage string

const (
	StageNotStarted  Stage = "not_started"
	StagePRDComplete Stage = "prd_complete"
	StageComplete    Stage = "complete"
)

const (
	prdFile  = "prd.md"
	planFile = "plan.md"
)

// Store locates per-key artifacts under a root directory:
// <root>/<key>/prd.md and <root>/<key>/plan.md.
type Store struct {
	root string
}

// NewStore creates a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// PRDPath returns the planning-document path for key.
func (s *Store) PRDPath(key string) string {
	return filepath.Join(s.root, key, prdFile)
}

// PlanPath returns the execution-plan path for key.
func (s *Store) PlanPath(key string) string {
	return filepath.Join(s.root, key, planFile)
}

// PRDExists reports whether the planning document exists for key.
func (s *Store) PRDExists(key string) bool {
	return regularFileExists(s.PRDPath(key))
}

// PlanExists reports whether the execution plan exists for key.
func (s *Store) PlanExists(key string) bool {
	return regularFileExists(s.PlanPath(key))
}

// Classify returns the durable stage for key.
func (s *Store) Classify(key string) Stage {
	return Classify(s.PRDExists(key), s.PlanExists(key))
}

// ReadPRD returns the planning document content for key.
func (s *Store) ReadPRD(key string) (string, error) {
	data, err := os.ReadFile(s.PRDPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to read prd for key %q: %w", key, err)
	}
	return string(data), nil
}

// Classify is the pure fallback classifier: given only the two artifact
// existence facts for a key, it is deterministic and history-independent.
func Classify(prdExists, planExists bool) Stage {
	switch {
	case prdExists && planExists:
		return StageComplete
	case prdExists:
		return StagePRDComplete
	default:
		return StageNotStarted
	}
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
