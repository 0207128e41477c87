package evaluator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pcagent/internal/logging"
)

// File expectation conditions.
const (
	FileExists    = "exists"
	FileNotExists = "not_exists"
	FileCreated   = "created"
	FileModified  = "modified"
	FileDeleted   = "deleted"
)

// defaultCreatedWindow is how fresh a file must be for "created".
const defaultCreatedWindow = 5 * time.Minute

// eventDebounce coalesces rapid-fire events for the same path. Editors
// produce several writes per save.
const eventDebounce = 100 * time.Millisecond

// FileExpectation describes one expected file outcome.
type FileExpectation struct {
	Path      string        `json:"path"`
	Condition string        `json:"condition"`
	Within    time.Duration `json:"within,omitempty"`  // freshness window for created
	Content   string        `json:"content,omitempty"` // expected content fragment
}

// FileState is a point-in-time snapshot of a file.
type FileState struct {
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	MD5     string    `json:"md5,omitempty"`
}

// FileChange is one observed filesystem event after debouncing.
type FileChange struct {
	Path      string    `json:"path"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// MonitorStats counts watcher activity.
type MonitorStats struct {
	EventsSeen int `json:"events_seen"`
	Debounced  int `json:"debounced"`
	Dispatched int `json:"dispatched"`
}

// FileMonitor watches directories for changes and scores file
// expectations against recorded and current state.
type FileMonitor struct {
	mu      sync.Mutex
	states  map[string]FileState
	changes []FileChange
	stats   MonitorStats
	pending map[string]*time.Timer

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileMonitor creates a monitor without starting the watcher; scoring
// works on demand from snapshots alone.
func NewFileMonitor() *FileMonitor {
	return &FileMonitor{
		states:  make(map[string]FileState),
		pending: make(map[string]*time.Timer),
	}
}

// Watch begins watching the given directories. Missing directories are
// skipped with a warning.
func (m *FileMonitor) Watch(paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			logging.Get(logging.CategoryMonitor).Warn("cannot watch %s: %v", path, err)
			continue
		}
		watched++
	}
	if watched == 0 && len(paths) > 0 {
		watcher.Close()
		return fmt.Errorf("none of %d watch paths could be added", len(paths))
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.loop()

	logging.Monitor("watching %d directories", watched)
	return nil
}

func (m *FileMonitor) loop() {
	defer m.wg.Done()
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryMonitor).Error("watch error: %v", err)
		case <-m.done:
			return
		}
	}
}

// handleEvent debounces per path: the first event arms a timer, later
// events within the window are counted but not re-dispatched.
func (m *FileMonitor) handleEvent(event fsnotify.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.EventsSeen++
	if _, armed := m.pending[event.Name]; armed {
		m.stats.Debounced++
		return
	}

	op := event.Op.String()
	m.pending[event.Name] = time.AfterFunc(eventDebounce, func() {
		m.mu.Lock()
		delete(m.pending, event.Name)
		m.changes = append(m.changes, FileChange{Path: event.Name, Op: op, Timestamp: time.Now()})
		m.stats.Dispatched++
		m.mu.Unlock()
		logging.MonitorDebug("change: %s %s", op, event.Name)
	})
}

// Close stops the watcher and drains pending timers.
func (m *FileMonitor) Close() error {
	var err error
	if m.watcher != nil {
		close(m.done)
		err = m.watcher.Close()
		m.wg.Wait()
		m.watcher = nil
	}

	m.mu.Lock()
	for path, timer := range m.pending {
		timer.Stop()
		delete(m.pending, path)
	}
	m.mu.Unlock()
	return err
}

// RecordState snapshots a file so a later "modified" expectation can
// compare hashes.
func (m *FileMonitor) RecordState(path string) FileState {
	state := snapshotFile(path)
	m.mu.Lock()
	m.states[path] = state
	m.mu.Unlock()
	return state
}

// Changes returns the debounced change log.
func (m *FileMonitor) Changes() []FileChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FileChange, len(m.changes))
	copy(out, m.changes)
	return out
}

// Stats returns watcher counters.
func (m *FileMonitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// CheckExpectation scores one file expectation in [0,1].
func (m *FileMonitor) CheckExpectation(exp FileExpectation) float64 {
	current := snapshotFile(exp.Path)

	var score float64
	switch exp.Condition {
	case FileExists:
		if current.Exists {
			score = 1.0
		}

	case FileNotExists, FileDeleted:
		if !current.Exists {
			score = 1.0
		}

	case FileCreated:
		if current.Exists {
			window := exp.Within
			if window <= 0 {
				window = defaultCreatedWindow
			}
			if time.Since(current.ModTime) <= window {
				score = 1.0
			} else {
				// Present but stale: partially counts.
				score = 0.5
			}
		}

	case FileModified:
		if current.Exists {
			m.mu.Lock()
			previous, known := m.states[exp.Path]
			m.mu.Unlock()
			if known && previous.MD5 != "" && current.MD5 != previous.MD5 {
				score = 1.0
			} else {
				// No baseline or unchanged hash.
				score = 0.5
			}
		}

	default:
		logging.Get(logging.CategoryMonitor).Warn("unknown file condition %q", exp.Condition)
		return 0.0
	}

	// Content check blends 70/30 with the condition score.
	if exp.Content != "" && current.Exists {
		score = score*0.7 + contentScore(exp.Path, exp.Content)*0.3
	}

	logging.MonitorDebug("file %s %s -> %.2f", exp.Path, exp.Condition, score)
	return score
}

// CheckExpectations averages the scores of all expectations. No
// expectations means automatic success.
func (m *FileMonitor) CheckExpectations(exps []FileExpectation) float64 {
	if len(exps) == 0 {
		return 1.0
	}
	var total float64
	for _, exp := range exps {
		total += m.CheckExpectation(exp)
	}
	return total / float64(len(exps))
}

// contentScore is 1.0 on a substring hit, Jaccard word overlap otherwise.
func contentScore(path, expected string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0.0
	}
	actual := string(data)
	if strings.Contains(actual, expected) {
		return 1.0
	}
	return wordOverlap(strings.ToLower(expected), strings.ToLower(actual))
}

// wordOverlap is Jaccard similarity on word sets.
func wordOverlap(a, b string) float64 {
	setA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		setA[w] = true
	}
	setB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		setB[w] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// snapshotFile captures the current state of a path.
func snapshotFile(path string) FileState {
	info, err := os.Stat(path)
	if err != nil {
		return FileState{}
	}
	state := FileState{
		Exists:  true,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if !info.IsDir() {
		state.MD5 = fileMD5(path)
	}
	return state
}

// fileMD5 hashes in 8192-byte chunks.
func fileMD5(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, 8192)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ""
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
