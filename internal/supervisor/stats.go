package supervisor

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time resource snapshot of the child.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// Alive reports whether the supervised process still exists, checked
// against the OS rather than our own bookkeeping.
func (s *Supervisor) Alive() bool {
	pid := s.PID()
	if pid == 0 {
		return false
	}
	running, err := process.PidExists(int32(pid))
	return err == nil && running
}

// Stats samples CPU and memory usage of the supervised process.
func (s *Supervisor) Stats() (ProcessStats, error) {
	pid := s.PID()
	if pid == 0 {
		return ProcessStats{}, fmt.Errorf("no process running")
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}
	stats := ProcessStats{PID: pid}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	return stats, nil
}
