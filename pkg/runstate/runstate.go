// Package runstate persists the outcome of sync runs so that the status
// endpoint and `igsync status` can report on the last one, and wraps runs
// with the run lock.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"igsync/pkg/logger"
	"igsync/pkg/syncer"
)

const stateVersion = 1

// State is what survives between runs
type State struct {
	Version int `json:"version"`
	// Running is set while a run is in flight. A crash leaves it set until
	// the next run starts.
	Running          bool               `json:"running"`
	CurrentStartedAt *time.Time         `json:"current_started_at,omitempty"`
	LastRun          *syncer.SyncReport `json:"last_run,omitempty"`
	TotalRuns        int                `json:"total_runs"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Manager reads and writes the state file
type Manager struct {
	path   string
	logger logger.Logger
	mu     sync.Mutex
}

// NewManager uses path, or state.json under DataDir when path is empty
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dir, "state.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Manager{path: path, logger: log.WithField("component", "runstate")}, nil
}

// Path is the state file location
func (m *Manager) Path() string { return m.path }

// Load returns the stored state, or an empty one when nothing was saved yet
func (m *Manager) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager) load() (*State, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &State{Version: stateVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	if st.Version > stateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported %d", st.Version, stateVersion)
	}
	return &st, nil
}

// save writes through a temp file and a rename so readers never see a
// partial file
func (m *Manager) save(st *State) error {
	st.Version = stateVersion
	st.UpdatedAt = time.Now()

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (m *Manager) update(fn func(*State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.load()
	if err != nil {
		// a corrupt file is replaced rather than blocking every future run
		m.logger.WithError(err).Warn("Discarding unreadable state file")
		st = &State{}
	}
	fn(st)
	return m.save(st)
}

// MarkStarted records that a run began at
func (m *Manager) MarkStarted(at time.Time) error {
	return m.update(func(st *State) {
		st.Running = true
		st.CurrentStartedAt = &at
	})
}

// Record stores a finished run
func (m *Manager) Record(report syncer.SyncReport) error {
	err := m.update(func(st *State) {
		st.Running = false
		st.CurrentStartedAt = nil
		st.LastRun = &report
		st.TotalRuns++
	})
	if err == nil {
		m.logger.WithFields(map[string]interface{}{
			"run_id": report.RunID,
			"path":   m.path,
		}).Debug("Run state saved")
	}
	return err
}

// DataDir is the per-user data directory for igsync
func DataDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "igsync")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "igsync")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "igsync")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".local", "share", "igsync")
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}
