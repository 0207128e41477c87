package evaluator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pcagent/internal/logging"
)

// Process expectation conditions.
const (
	ProcessRunning    = "running"
	ProcessNotRunning = "not_running"
)

// ProcessInfo describes one running process read from /proc.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline,omitempty"`
	MemoryMB  float64   `json:"memory_mb"`
	StartTime time.Time `json:"start_time"`
	ExePath   string    `json:"exe_path,omitempty"`
}

// ProcessCriteria are optional extra checks on a matched process.
type ProcessCriteria struct {
	MaxMemoryMB     float64       `json:"max_memory_mb,omitempty"`
	MinAge          time.Duration `json:"min_age,omitempty"`
	ExePathContains string        `json:"exe_path_contains,omitempty"`
}

// ProcessExpectation describes one expected process state.
type ProcessExpectation struct {
	Name      string           `json:"name"`
	Condition string           `json:"condition"`
	MinCount  int              `json:"min_count,omitempty"`
	MaxCount  int              `json:"max_count,omitempty"`
	Criteria  *ProcessCriteria `json:"criteria,omitempty"`
}

// ProcessVerifier inspects /proc to score process expectations.
type ProcessVerifier struct {
	procRoot string // overridable for tests
}

// NewProcessVerifier creates a verifier reading the real /proc.
func NewProcessVerifier() *ProcessVerifier {
	return &ProcessVerifier{procRoot: "/proc"}
}

// List returns all visible processes. Unreadable entries are skipped.
func (p *ProcessVerifier) List() ([]ProcessInfo, error) {
	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.procRoot, err)
	}

	bootTime := p.bootTime()
	var procs []ProcessInfo
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		info, err := p.readProcess(pid, bootTime)
		if err != nil {
			continue
		}
		procs = append(procs, info)
	}
	return procs, nil
}

// Find returns processes whose name matches (case-insensitive).
func (p *ProcessVerifier) Find(name string) ([]ProcessInfo, error) {
	procs, err := p.List()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	var matched []ProcessInfo
	for _, proc := range procs {
		if strings.ToLower(proc.Name) == lower {
			matched = append(matched, proc)
		}
	}
	return matched, nil
}

// IsRunning reports whether any process with the name exists.
func (p *ProcessVerifier) IsRunning(name string) bool {
	matched, err := p.Find(name)
	return err == nil && len(matched) > 0
}

// Terminate sends SIGTERM to a process.
func (p *ProcessVerifier) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to terminate %d: %w", pid, err)
	}
	logging.Evaluator("sent SIGTERM to pid %d", pid)
	return nil
}

// CheckExpectation scores one process expectation. Banding: exact
// condition 1.0, running with a count mismatch 0.8, partially met 0.5,
// otherwise 0. Criteria blend 70/30 into the condition score.
func (p *ProcessVerifier) CheckExpectation(exp ProcessExpectation) float64 {
	matched, err := p.Find(exp.Name)
	if err != nil {
		logging.Get(logging.CategoryEvaluator).Warn("process listing failed: %v", err)
		return 0.0
	}
	count := len(matched)

	var score float64
	switch exp.Condition {
	case ProcessRunning:
		minCount := exp.MinCount
		if minCount <= 0 {
			minCount = 1
		}
		switch {
		case count >= minCount && (exp.MaxCount <= 0 || count <= exp.MaxCount):
			score = 1.0
		case count >= minCount:
			// Running but more instances than expected.
			score = 0.8
		case count > 0:
			// Some instances, fewer than required.
			score = 0.5
		default:
			score = 0.0
		}

	case ProcessNotRunning:
		if count == 0 {
			score = 1.0
		}

	default:
		logging.Get(logging.CategoryEvaluator).Warn("unknown process condition %q", exp.Condition)
		return 0.0
	}

	if exp.Criteria != nil && count > 0 {
		score = score*0.7 + criteriaScore(matched[0], *exp.Criteria)*0.3
	}

	logging.EvaluatorDebug("process %s %s (count %d) -> %.2f", exp.Name, exp.Condition, count, score)
	return score
}

// CheckExpectations averages all expectation scores; none means success.
func (p *ProcessVerifier) CheckExpectations(exps []ProcessExpectation) float64 {
	if len(exps) == 0 {
		return 1.0
	}
	var total float64
	for _, exp := range exps {
		total += p.CheckExpectation(exp)
	}
	return total / float64(len(exps))
}

// criteriaScore is the fraction of supplied criteria the process meets.
func criteriaScore(proc ProcessInfo, criteria ProcessCriteria) float64 {
	total, met := 0, 0
	if criteria.MaxMemoryMB > 0 {
		total++
		if proc.MemoryMB <= criteria.MaxMemoryMB {
			met++
		}
	}
	if criteria.MinAge > 0 {
		total++
		if !proc.StartTime.IsZero() && time.Since(proc.StartTime) >= criteria.MinAge {
			met++
		}
	}
	if criteria.ExePathContains != "" {
		total++
		if strings.Contains(proc.ExePath, criteria.ExePathContains) {
			met++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(met) / float64(total)
}

// readProcess assembles ProcessInfo from the /proc/<pid> files.
func (p *ProcessVerifier) readProcess(pid int, bootTime time.Time) (ProcessInfo, error) {
	dir := filepath.Join(p.procRoot, strconv.Itoa(pid))

	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return ProcessInfo{}, err
	}
	info := ProcessInfo{
		PID:  pid,
		Name: strings.TrimSpace(string(comm)),
	}

	if cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		info.Cmdline = strings.TrimRight(strings.ReplaceAll(string(cmdline), "\x00", " "), " ")
	}
	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		info.ExePath = exe
	}
	if status, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
		info.MemoryMB = parseVmRSS(string(status))
	}
	if !bootTime.IsZero() {
		if stat, err := os.ReadFile(filepath.Join(dir, "stat")); err == nil {
			if ticks, ok := parseStartTicks(string(stat)); ok {
				info.StartTime = bootTime.Add(time.Duration(ticks/clockTicksPerSecond) * time.Second)
			}
		}
	}
	return info, nil
}

// clockTicksPerSecond is the conventional USER_HZ value on Linux.
const clockTicksPerSecond = 100

// bootTime reads btime from /proc/stat.
func (p *ProcessVerifier) bootTime() time.Time {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "stat"))
	if err != nil {
		return time.Time{}
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			if secs, err := strconv.ParseInt(strings.TrimSpace(line[6:]), 10, 64); err == nil {
				return time.Unix(secs, 0)
			}
		}
	}
	return time.Time{}
}

// parseVmRSS extracts resident memory in MB from /proc/<pid>/status.
func parseVmRSS(status string) float64 {
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseFloat(fields[1], 64); err == nil {
					return kb / 1024
				}
			}
		}
	}
	return 0
}

// parseStartTicks extracts field 22 (starttime) from /proc/<pid>/stat.
// The comm field may contain spaces, so parsing starts after the last
// close paren.
func parseStartTicks(stat string) (int64, bool) {
	idx := strings.LastIndex(stat, ")")
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(stat[idx+1:])
	// fields[0] is state (field 3); starttime is field 22.
	const startTimeIndex = 22 - 3
	if len(fields) <= startTimeIndex {
		return 0, false
	}
	ticks, err := strconv.ParseInt(fields[startTimeIndex], 10, 64)
	if err != nil {
		return 0, false
	}
	return ticks, true
}
