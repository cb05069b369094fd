// Package statestore persists one durable record per task so a run can be
// inspected from outside and resumed after a crash. Records are advisory: a
// valid artifact remains the authoritative completion signal.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of a task.
type State string

const (
	Pending        State = "pending"
	Ready          State = "ready"
	Running        State = "running"
	Succeeded      State = "succeeded"
	Failed         State = "failed"
	Skipped        State = "skipped"
	UpstreamFailed State = "upstream-failed"
)

// Terminal reports whether no further transition is expected in this run.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, UpstreamFailed:
		return true
	}
	return false
}

// Record is the persisted state of one task.
type Record struct {
	RunID     string    `json:"run_id"`
	Task      string    `json:"task"`
	Chrom     string    `json:"chrom"`
	Sample    string    `json:"sample,omitempty"`
	Chunk     string    `json:"chunk,omitempty"`
	Stage     string    `json:"stage"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	ExitCode  int       `json:"exit_code"`
	Retries   int       `json:"retries"`
	Cause     string    `json:"cause,omitempty"`
}

// Store keeps records under dir, one JSON file per task. Writes are
// serialised and atomic.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New returns a store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(task string) string {
	return filepath.Join(s.dir, task+".json")
}

// Put writes rec, replacing any earlier record of the same task.
func (s *Store) Put(rec Record) error {
	if rec.Task == "" {
		return errors.New("record has no task")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path(rec.Task), data); err != nil {
		return fmt.Errorf("write record %s: %w", rec.Task, err)
	}
	return nil
}

// Get loads the record of task. ok is false when none exists.
func (s *Store) Get(task string) (rec Record, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(task))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", task, err)
	}
	return rec, true, nil
}

// All returns every record sorted by task key.
func (s *Store) All() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", name, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

// writeFileAtomic writes through a synced temporary file renamed into place,
// then syncs the directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp.*."+filepath.Base(path))
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
