package evaluator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// fakeProc builds a /proc lookalike in a temp dir. Each entry becomes a
// numbered pid directory with comm, cmdline, status and stat files.
type fakeProcEntry struct {
	pid       int
	name      string
	cmdline   string
	rssKB     int
	startSecs int64 // seconds after boot
}

func writeFakeProc(t *testing.T, bootUnix int64, entries []fakeProcEntry) string {
	t.Helper()
	root := t.TempDir()

	stat := fmt.Sprintf("cpu  0 0 0 0\nbtime %d\n", bootUnix)
	if err := os.WriteFile(filepath.Join(root, "stat"), []byte(stat), 0644); err != nil {
		t.Fatal(err)
	}

	for _, e := range entries {
		dir := filepath.Join(root, strconv.Itoa(e.pid))
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatal(err)
		}
		writeProcFile(t, dir, "comm", e.name+"\n")
		writeProcFile(t, dir, "cmdline", e.cmdline+"\x00")
		writeProcFile(t, dir, "status", fmt.Sprintf("Name:\t%s\nVmRSS:\t%d kB\n", e.name, e.rssKB))
		// Field 22 (starttime) is in clock ticks after boot.
		ticks := e.startSecs * clockTicksPerSecond
		writeProcFile(t, dir, "stat",
			fmt.Sprintf("%d (%s) S 1 1 1 0 -1 0 0 0 0 0 0 0 0 0 20 0 1 0 %d 0 0", e.pid, e.name, ticks))
	}
	return root
}

func writeProcFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func fakeVerifier(t *testing.T, entries []fakeProcEntry) *ProcessVerifier {
	t.Helper()
	boot := time.Now().Add(-time.Hour).Unix()
	return &ProcessVerifier{procRoot: writeFakeProc(t, boot, entries)}
}

func TestListAndFind(t *testing.T) {
	v := fakeVerifier(t, []fakeProcEntry{
		{pid: 100, name: "firefox", cmdline: "/usr/bin/firefox --new-tab", rssKB: 512000, startSecs: 10},
		{pid: 200, name: "firefox", cmdline: "/usr/bin/firefox", rssKB: 256000, startSecs: 20},
		{pid: 300, name: "gedit", cmdline: "/usr/bin/gedit notes.txt", rssKB: 64000, startSecs: 30},
	})

	procs, err := v.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(procs) != 3 {
		t.Fatalf("listed %d processes, want 3", len(procs))
	}

	found, err := v.Find("Firefox")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("found %d firefox processes, want 2", len(found))
	}
	if found[0].MemoryMB != 500 {
		t.Errorf("MemoryMB = %v, want 500", found[0].MemoryMB)
	}
	if found[0].Cmdline != "/usr/bin/firefox --new-tab" {
		t.Errorf("Cmdline = %q", found[0].Cmdline)
	}

	if !v.IsRunning("gedit") {
		t.Error("gedit should be running")
	}
	if v.IsRunning("chrome") {
		t.Error("chrome should not be running")
	}
}

func TestStartTimeFromBtime(t *testing.T) {
	boot := time.Now().Add(-time.Hour).Unix()
	root := writeFakeProc(t, boot, []fakeProcEntry{
		{pid: 100, name: "gedit", cmdline: "gedit", rssKB: 1024, startSecs: 600},
	})
	v := &ProcessVerifier{procRoot: root}

	procs, err := v.Find("gedit")
	if err != nil || len(procs) != 1 {
		t.Fatalf("Find: %v, %d matches", err, len(procs))
	}
	want := time.Unix(boot, 0).Add(600 * time.Second)
	if !procs[0].StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", procs[0].StartTime, want)
	}
}

func TestProcessExpectationBands(t *testing.T) {
	v := fakeVerifier(t, []fakeProcEntry{
		{pid: 100, name: "firefox", rssKB: 512000, startSecs: 10},
		{pid: 200, name: "firefox", rssKB: 256000, startSecs: 20},
	})

	tests := []struct {
		name string
		exp  ProcessExpectation
		want float64
	}{
		{"running matches", ProcessExpectation{Name: "firefox", Condition: ProcessRunning}, 1.0},
		{"running within bounds", ProcessExpectation{Name: "firefox", Condition: ProcessRunning, MinCount: 2, MaxCount: 3}, 1.0},
		{"too many instances", ProcessExpectation{Name: "firefox", Condition: ProcessRunning, MinCount: 1, MaxCount: 1}, 0.8},
		{"too few instances", ProcessExpectation{Name: "firefox", Condition: ProcessRunning, MinCount: 5}, 0.5},
		{"absent process", ProcessExpectation{Name: "chrome", Condition: ProcessRunning}, 0.0},
		{"not running holds", ProcessExpectation{Name: "chrome", Condition: ProcessNotRunning}, 1.0},
		{"not running violated", ProcessExpectation{Name: "firefox", Condition: ProcessNotRunning}, 0.0},
		{"unknown condition", ProcessExpectation{Name: "firefox", Condition: "paused"}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.CheckExpectation(tt.exp); got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCriteriaBlend(t *testing.T) {
	v := fakeVerifier(t, []fakeProcEntry{
		{pid: 100, name: "gedit", rssKB: 512000, startSecs: 10}, // 500 MB
	})

	// Memory cap met: 1.0*0.7 + 1.0*0.3 = 1.0.
	got := v.CheckExpectation(ProcessExpectation{
		Name: "gedit", Condition: ProcessRunning,
		Criteria: &ProcessCriteria{MaxMemoryMB: 600},
	})
	if got != 1.0 {
		t.Errorf("criteria met = %v, want 1.0", got)
	}

	// Memory cap exceeded: 1.0*0.7 + 0.0*0.3 = 0.7.
	got = v.CheckExpectation(ProcessExpectation{
		Name: "gedit", Condition: ProcessRunning,
		Criteria: &ProcessCriteria{MaxMemoryMB: 100},
	})
	if got != 0.7 {
		t.Errorf("criteria missed = %v, want 0.7", got)
	}
}

func TestProcessExpectationsAverage(t *testing.T) {
	v := fakeVerifier(t, []fakeProcEntry{
		{pid: 100, name: "gedit", rssKB: 1024, startSecs: 10},
	})
	score := v.CheckExpectations([]ProcessExpectation{
		{Name: "gedit", Condition: ProcessRunning},  // 1.0
		{Name: "chrome", Condition: ProcessRunning}, // 0.0
	})
	if score != 0.5 {
		t.Errorf("average = %v, want 0.5", score)
	}
	if got := v.CheckExpectations(nil); got != 1.0 {
		t.Errorf("no expectations = %v, want 1.0", got)
	}
}

func TestParseStartTicks(t *testing.T) {
	// comm with spaces and parens must not break field numbering.
	stat := "42 (Web Content (x)) S 1 1 1 0 -1 0 0 0 0 0 0 0 0 0 20 0 1 0 12345 0 0"
	ticks, ok := parseStartTicks(stat)
	if !ok || ticks != 12345 {
		t.Errorf("parseStartTicks = %d, %v; want 12345, true", ticks, ok)
	}
	if _, ok := parseStartTicks("garbage"); ok {
		t.Error("garbage stat should not parse")
	}
}
