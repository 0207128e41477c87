package evaluator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheckExistsConditions(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(present, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	absent := filepath.Join(dir, "absent.txt")

	m := NewFileMonitor()
	defer m.Close()

	if got := m.CheckExpectation(FileExpectation{Path: present, Condition: FileExists}); got != 1.0 {
		t.Errorf("exists on present file = %v, want 1.0", got)
	}
	if got := m.CheckExpectation(FileExpectation{Path: absent, Condition: FileExists}); got != 0.0 {
		t.Errorf("exists on absent file = %v, want 0.0", got)
	}
	if got := m.CheckExpectation(FileExpectation{Path: absent, Condition: FileNotExists}); got != 1.0 {
		t.Errorf("not_exists on absent file = %v, want 1.0", got)
	}
	if got := m.CheckExpectation(FileExpectation{Path: present, Condition: FileDeleted}); got != 0.0 {
		t.Errorf("deleted on present file = %v, want 0.0", got)
	}
}

func TestCheckCreatedFreshness(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.txt")
	if err := os.WriteFile(fresh, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewFileMonitor()
	defer m.Close()

	if got := m.CheckExpectation(FileExpectation{Path: fresh, Condition: FileCreated}); got != 1.0 {
		t.Errorf("fresh file = %v, want 1.0", got)
	}

	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if got := m.CheckExpectation(FileExpectation{Path: stale, Condition: FileCreated}); got != 0.5 {
		t.Errorf("stale file = %v, want 0.5", got)
	}
}

func TestCheckModifiedUsesBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("version one"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewFileMonitor()
	defer m.Close()
	m.RecordState(path)

	// Unchanged hash scores the partial band.
	if got := m.CheckExpectation(FileExpectation{Path: path, Condition: FileModified}); got != 0.5 {
		t.Errorf("unmodified = %v, want 0.5", got)
	}

	if err := os.WriteFile(path, []byte("version two"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := m.CheckExpectation(FileExpectation{Path: path, Condition: FileModified}); got != 1.0 {
		t.Errorf("modified = %v, want 1.0", got)
	}
}

func TestContentBlending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("quarterly sales report for Q3"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewFileMonitor()
	defer m.Close()

	// Substring hit keeps the full score.
	exact := m.CheckExpectation(FileExpectation{
		Path: path, Condition: FileExists, Content: "sales report"})
	if exact != 1.0 {
		t.Errorf("substring content = %v, want 1.0", exact)
	}

	// Unrelated content drags the score down through the 70/30 blend.
	off := m.CheckExpectation(FileExpectation{
		Path: path, Condition: FileExists, Content: "entirely different words here"})
	if off >= exact {
		t.Errorf("mismatched content (%v) should score below matching content (%v)", off, exact)
	}
}

func TestCheckExpectationsAverages(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(present, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewFileMonitor()
	defer m.Close()

	score := m.CheckExpectations([]FileExpectation{
		{Path: present, Condition: FileExists},                      // 1.0
		{Path: filepath.Join(dir, "b.txt"), Condition: FileExists},  // 0.0
	})
	if score != 0.5 {
		t.Errorf("average = %v, want 0.5", score)
	}

	if got := m.CheckExpectations(nil); got != 1.0 {
		t.Errorf("no expectations = %v, want 1.0", got)
	}
}

func TestWatcherObservesChanges(t *testing.T) {
	dir := t.TempDir()

	m := NewFileMonitor()
	if err := m.Watch([]string{dir}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Event delivery plus the debounce window.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Changes()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	changes := m.Changes()
	if len(changes) == 0 {
		t.Fatal("no changes observed")
	}
	stats := m.Stats()
	if stats.EventsSeen == 0 || stats.Dispatched == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWatchMissingDirsFails(t *testing.T) {
	m := NewFileMonitor()
	defer m.Close()
	if err := m.Watch([]string{"/nonexistent/path/zzz"}); err == nil {
		t.Error("watching only missing paths should fail")
	}
}
