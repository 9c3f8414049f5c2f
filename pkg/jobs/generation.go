package jobs

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopdeck/loopdeck/pkg/artifacts"
	"github.com/loopdeck/loopdeck/pkg/events"
	"github.com/loopdeck/loopdeck/pkg/log"
	"github.com/loopdeck/loopdeck/pkg/proc"
)

// GenerationKind identifies which phase a generation job drives.
type GenerationKind string

const (
	KindPRD  GenerationKind = "prd"
	KindPlan GenerationKind = "plan"
)

// GenerationStatus is the lifecycle state reported for a key. Running and
// Error come from in-memory entries; NotStarted, PRDComplete, and Complete
// also arise from the durable-artifact fallback classifier.
type GenerationStatus string

const (
	GenNotStarted  GenerationStatus = "not_started"
	GenRunning     GenerationStatus = "running"
	GenPRDComplete GenerationStatus = "prd_complete"
	GenComplete    GenerationStatus = "complete"
	GenError       GenerationStatus = "error"
)

// GenerationJob is a point-in-time snapshot for one key.
type GenerationJob struct {
	ID        string           `json:"id,omitempty"`
	Key       string           `json:"key,omitempty"`
	Kind      GenerationKind   `json:"kind,omitempty"`
	Status    GenerationStatus `json:"status"`
	Phase     string           `json:"phase,omitempty"`
	Progress  int              `json:"progress,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
}

// GenerationConfig configures the generation manager.
type GenerationConfig struct {
	Binary          string
	WorkDir         string
	AwaitKeyTimeout time.Duration // wait for the key announcement
	ConfirmRetries  int           // artifact confirmation attempts
	ConfirmBackoff  time.Duration // delay between confirmation attempts
	MaxConcurrent   int           // running generation jobs across all keys
	ReapGrace       time.Duration // terminal entry retention with no observer
	TermGrace       time.Duration
	BufferSize      int
}

// MinDescriptionLen is the shortest accepted PRD description.
const MinDescriptionLen = 10

func (c *GenerationConfig) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "ralph"
	}
	if c.AwaitKeyTimeout <= 0 {
		c.AwaitKeyTimeout = 30 * time.Second
	}
	if c.ConfirmRetries <= 0 {
		c.ConfirmRetries = 10
	}
	if c.ConfirmBackoff <= 0 {
		c.ConfirmBackoff = 500 * time.Millisecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.ReapGrace <= 0 {
		c.ReapGrace = 5 * time.Minute
	}
	if c.TermGrace <= 0 {
		c.TermGrace = defaultTermGrace
	}
}

// genEntry is the manager's live record for one key. The watcher goroutine
// is the only writer of job after launch; everything is read under mu.
type genEntry struct {
	job       GenerationJob
	handle    Process
	channel   *events.Channel
	cancelled bool
}

// GenerationManager owns at most one live generation process per key and
// drives the two-phase PRD-then-plan state machine.
type GenerationManager struct {
	mu       sync.Mutex
	cfg      GenerationConfig
	store    *artifacts.Store
	launcher Launcher
	entries  map[string]*genEntry
	running  int
	now      func() time.Time
}

// NewGenerationManager creates an empty manager.
func NewGenerationManager(cfg GenerationConfig, store *artifacts.Store, launcher Launcher) *GenerationManager {
	cfg.applyDefaults()
	return &GenerationManager{
		cfg:      cfg,
		store:    store,
		launcher: launcher,
		entries:  make(map[string]*genEntry),
		now:      time.Now,
	}
}

// StartPRD launches planning-document generation. The work-stream key is
// assigned by the generator itself and announced on its stdout, so this call
// blocks (bounded) until the key is announced and its durable artifact is
// confirmed on disk. A key without an artifact is not usable by the rest of
// the system, so confirmation failure is a failure even after announcement.
func (m *GenerationManager) StartPRD(description string) (GenerationJob, error) {
	if len(strings.TrimSpace(description)) < MinDescriptionLen {
		return GenerationJob{}, Errf(CodeValidation,
			"description must be at least %d characters", MinDescriptionLen)
	}

	m.mu.Lock()
	if m.running >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return GenerationJob{}, Errf(CodeConflict,
			"generation concurrency limit reached (%d running)", m.running)
	}

	handle, err := m.launcher.Launch(proc.Spec{
		Path:       m.cfg.Binary,
		Args:       []string{"prd", "--description", description},
		Dir:        m.cfg.WorkDir,
		BufferSize: m.cfg.BufferSize,
	})
	if err != nil {
		m.mu.Unlock()
		return GenerationJob{}, Errf(CodeSpawn, "failed to launch %s prd: %v", m.cfg.Binary, err)
	}

	started := m.now()
	entry := &genEntry{
		job: GenerationJob{
			ID:        uuid.NewString(),
			Kind:      KindPRD,
			Status:    GenRunning,
			StartedAt: &started,
		},
		handle:  handle,
		channel: events.New(),
	}
	m.running++
	m.mu.Unlock()

	keyc := make(chan string, 1)
	go m.watch(entry, keyc)

	log.Info("prd generation started", "pid", handle.PID())

	select {
	case key, ok := <-keyc:
		if !ok {
			// The generator exited before announcing a key.
			m.mu.Lock()
			snap := entry.job
			m.mu.Unlock()
			return snap, Errf(CodeRuntime, "generator exited before announcing a key: %s",
				strings.TrimSpace(handle.StderrTail()))
		}
		if err := m.confirmArtifact(key); err != nil {
			handle.Terminate(m.cfg.TermGrace)
			return GenerationJob{}, err
		}
		return m.registerKey(entry, key)
	case <-time.After(m.cfg.AwaitKeyTimeout):
		handle.Terminate(m.cfg.TermGrace)
		return GenerationJob{}, Errf(CodeTimeout,
			"timed out after %s waiting for key announcement", m.cfg.AwaitKeyTimeout)
	}
}

// registerKey publishes the announced key into the entry map. If another
// Running entry already holds the key the new process is abandoned.
func (m *GenerationManager) registerKey(entry *genEntry, key string) (GenerationJob, error) {
	m.mu.Lock()
	if existing, ok := m.entries[key]; ok && existing.job.Status == GenRunning && existing != entry {
		m.mu.Unlock()
		entry.handle.Terminate(m.cfg.TermGrace)
		return GenerationJob{}, Errf(CodeConflict, "a generation job is already running for key %q", key)
	}
	entry.job.Key = key
	m.entries[key] = entry
	snap := entry.job
	m.mu.Unlock()

	log.Info("key confirmed", "key", key)
	return snap, nil
}

// confirmArtifact polls for the announced key's PRD artifact with bounded
// retries. The announcement races the artifact write, so a few misses are
// normal; exhausting the retries is not.
func (m *GenerationManager) confirmArtifact(key string) error {
	for attempt := 0; attempt < m.cfg.ConfirmRetries; attempt++ {
		if m.store.PRDExists(key) {
			return nil
		}
		time.Sleep(m.cfg.ConfirmBackoff)
	}
	return Errf(CodeTimeout,
		"key %q was announced but its prd artifact never appeared", key)
}

// StartPlan launches execution-plan generation for key. The PRD artifact
// must already exist; this is checked before any process is launched.
func (m *GenerationManager) StartPlan(key string) (GenerationJob, error) {
	if key == "" {
		return GenerationJob{}, Errf(CodeValidation, "key is required")
	}
	if !m.store.PRDExists(key) {
		return GenerationJob{}, Errf(CodePrecondition, "no prd artifact exists for key %q", key)
	}

	m.mu.Lock()
	if existing, ok := m.entries[key]; ok && existing.job.Status == GenRunning {
		snap := existing.job
		m.mu.Unlock()
		return snap, Errf(CodeConflict, "a generation job is already running for key %q", key)
	}
	if m.running >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return GenerationJob{}, Errf(CodeConflict,
			"generation concurrency limit reached (%d running)", m.running)
	}

	handle, err := m.launcher.Launch(proc.Spec{
		Path:       m.cfg.Binary,
		Args:       []string{"plan", "--key", key},
		Dir:        m.cfg.WorkDir,
		BufferSize: m.cfg.BufferSize,
	})
	if err != nil {
		m.mu.Unlock()
		return GenerationJob{}, Errf(CodeSpawn, "failed to launch %s plan: %v", m.cfg.Binary, err)
	}

	started := m.now()
	entry := &genEntry{
		job: GenerationJob{
			ID:        uuid.NewString(),
			Key:       key,
			Kind:      KindPlan,
			Status:    GenRunning,
			StartedAt: &started,
		},
		handle:  handle,
		channel: events.New(),
	}
	m.entries[key] = entry
	m.running++
	snap := entry.job
	m.mu.Unlock()

	go m.watch(entry, nil)

	log.Info("plan generation started", "key", key, "pid", handle.PID())
	return snap, nil
}

// Cancel requests termination of the running job for key. The transition to
// Error(cancelled) happens when the process actually exits.
func (m *GenerationManager) Cancel(key string) error {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return Errf(CodeNotFound, "no generation job for key %q", key)
	}
	if entry.job.Status != GenRunning {
		m.mu.Unlock()
		return Errf(CodeNotRunning, "generation job for key %q is not running", key)
	}
	entry.cancelled = true
	handle := entry.handle
	m.mu.Unlock()

	handle.Terminate(m.cfg.TermGrace)
	log.Info("generation cancel requested", "key", key)
	return nil
}

// Status returns the in-memory snapshot for key, or falls back to the pure
// durable-artifact classifier when the orchestrator holds no entry (e.g.
// after a restart). The fallback never reports a false Idle.
func (m *GenerationManager) Status(key string) GenerationJob {
	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		snap := entry.job
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()

	switch m.store.Classify(key) {
	case artifacts.StageComplete:
		return GenerationJob{Key: key, Status: GenComplete}
	case artifacts.StagePRDComplete:
		return GenerationJob{Key: key, Status: GenPRDComplete}
	default:
		return GenerationJob{Key: key, Status: GenNotStarted}
	}
}

// Subscribe attaches a read-only view to key's event channel. The second
// return is the unsubscribe function; ok is false when no channel exists
// (job never started, or already reaped).
func (m *GenerationManager) Subscribe(key string) (<-chan events.Event, func(), bool) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return nil, nil, false
	}
	channel := entry.channel
	m.mu.Unlock()

	sub, cancel := channel.Subscribe()
	wrapped := func() {
		cancel()
		// Terminal entries reap early once someone has observed the end.
		if channel.Closed() && channel.Observed() {
			m.reap(key, entry)
		}
	}
	return sub, wrapped, true
}

// watch is the per-process watcher: it classifies output lines into events,
// publishes them, and records the terminal transition. It is the only
// writer of the entry's job after launch.
func (m *GenerationManager) watch(entry *genEntry, keyc chan<- string) {
	var last string
	announced := false

	for line := range entry.handle.Lines() {
		line = strings.TrimSpace(line)
		// Blank lines and repeated heartbeat-only output are dropped.
		if line == "" || line == last {
			continue
		}
		last = line

		switch {
		case strings.HasPrefix(line, "key:"):
			key := strings.TrimSpace(strings.TrimPrefix(line, "key:"))
			if key == "" || announced {
				continue
			}
			announced = true
			m.mu.Lock()
			entry.job.Key = key
			m.mu.Unlock()
			if keyc != nil {
				keyc <- key
			}
			entry.channel.Publish(events.Event{Type: events.TypePhase, Key: key, Payload: "assigned"})

		case strings.HasPrefix(line, "phase:"):
			label := strings.TrimSpace(strings.TrimPrefix(line, "phase:"))
			m.mu.Lock()
			entry.job.Phase = label
			key := entry.job.Key
			m.mu.Unlock()
			entry.channel.Publish(events.Event{Type: events.TypePhase, Key: key, Payload: label})

		case strings.HasPrefix(line, "progress:"):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "progress:")))
			if err != nil || n < 0 || n > 100 {
				continue
			}
			m.mu.Lock()
			entry.job.Progress = n
			key := entry.job.Key
			phase := entry.job.Phase
			m.mu.Unlock()
			entry.channel.Publish(events.Event{Type: events.TypePhase, Key: key, Payload: phase, Progress: n})

		default:
			m.mu.Lock()
			key := entry.job.Key
			m.mu.Unlock()
			entry.channel.Publish(events.Event{Type: events.TypeOutput, Key: key, Payload: line})
		}
	}

	if keyc != nil && !announced {
		close(keyc)
	}

	outcome := entry.handle.Wait()

	m.mu.Lock()
	m.running--
	key := entry.job.Key
	if outcome.Clean() && !entry.cancelled {
		entry.job.Status = GenComplete
		entry.job.Progress = 100
	} else {
		entry.job.Status = GenError
		if entry.cancelled {
			entry.job.Error = "cancelled by operator"
		} else {
			entry.job.Error = describeFailure(outcome, entry.handle.StderrTail())
		}
	}
	terminalErr := entry.job.Error
	m.mu.Unlock()

	if terminalErr == "" {
		entry.channel.Publish(events.Event{Type: events.TypeComplete, Key: key, Payload: string(entry.job.Kind)})
		log.Info("generation completed", "key", key, "kind", entry.job.Kind)
	} else {
		entry.channel.Publish(events.Event{Type: events.TypeError, Key: key, Payload: terminalErr})
		log.Warn("generation failed", "key", key, "detail", terminalErr)
	}

	if key != "" {
		time.AfterFunc(m.cfg.ReapGrace, func() { m.reap(key, entry) })
	}
}

// reap removes a terminal entry and forgets its channel. Running entries and
// entries replaced by a newer job for the same key are left alone.
func (m *GenerationManager) reap(key string, entry *genEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[key]
	if !ok || current != entry {
		return
	}
	if current.job.Status == GenRunning {
		return
	}
	delete(m.entries, key)
	log.Debug("generation entry reaped", "key", key)
}
