package gitsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Kind names the per-entity sync kinds, in their fixed cycle order.
type Kind string

const (
	KindIssues    Kind = "issues"
	KindPRs       Kind = "prs"
	KindCommits   Kind = "commits"
	KindCI        Kind = "ci"
	KindCodeBlobs Kind = "code_blobs"
)

// Kinds returns the cycle order: issues, PRs, commits, CI, code blobs.
func Kinds() []Kind {
	return []Kind{KindIssues, KindPRs, KindCommits, KindCI, KindCodeBlobs}
}

// State is the per-source incremental sync state, persisted as JSON.
type State struct {
	LastSynced map[Kind]time.Time `json:"last_synced"`
	LastCount  map[Kind]int       `json:"last_count"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		LastSynced: make(map[Kind]time.Time),
		LastCount:  make(map[Kind]int),
	}
}

// Since returns the incremental lower bound for a kind; zero means full.
func (s *State) Since(k Kind) time.Time { return s.LastSynced[k] }

// Record updates a kind after a successful pass.
func (s *State) Record(k Kind, when time.Time, count int) {
	s.LastSynced[k] = when.UTC()
	s.LastCount[k] = count
}

// StateStore persists sync state and the health beacon under a state
// directory.
type StateStore struct {
	dir    string
	source string
}

// NewStateStore creates a store for one source (e.g. "github-owner-repo").
func NewStateStore(dir, source string) (*StateStore, error) {
	full := filepath.Join(dir, ".state")
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &StateStore{dir: full, source: source}, nil
}

func (s *StateStore) statePath() string {
	return filepath.Join(s.dir, s.source+".json")
}

// BeaconPath is the liveness file touched after every cycle.
func (s *StateStore) BeaconPath() string {
	return filepath.Join(s.dir, s.source+".beacon")
}

// Load reads the persisted state; a missing file yields an empty state.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}
	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decoding sync state: %w", err)
	}
	return state, nil
}

// Save writes the state atomically.
func (s *StateStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	tmp := s.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing sync state: %w", err)
	}
	return nil
}

// statFile returns a file's modification time.
func statFile(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// TouchBeacon updates the health beacon regardless of cycle outcome, so an
// external liveness check can tell the daemon is alive.
func (s *StateStore) TouchBeacon() error {
	now := time.Now()
	f, err := os.OpenFile(s.BeaconPath(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	f.Close()
	return os.Chtimes(s.BeaconPath(), now, now)
}
