package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"hybrid_monitor/internal/probe"
)

var (
	// ErrEnumerationDenied marks a process or socket the agent was not
	// allowed to inspect.
	ErrEnumerationDenied = errors.New("host enumeration denied")
	ErrProcessGone       = errors.New("process exited during scan")
)

// ProcessInfo is what the ensemble needs to know about one process. Stats is
// nil when resource usage could not be read.
type ProcessInfo struct {
	PID     int32
	Cmdline string
	Stats   *ProcessStats
}

type ProcessStats struct {
	CPUPercent float64
	MemPercent float64
	Threads    float64
	OpenFDs    float64
}

// Vector is the anomaly model's input order.
func (s ProcessStats) Vector() []float64 {
	return []float64{s.CPUPercent, s.MemPercent, s.Threads, s.OpenFDs}
}

type Connection struct {
	Status     string
	RemoteIP   string
	RemotePort uint32
}

// Inspector enumerates local processes and sockets. A whole-call error means
// nothing could be listed; per-item failures come back as probe.Skip.
type Inspector interface {
	Processes(ctx context.Context) ([]probe.Result[ProcessInfo], error)
	Connections(ctx context.Context) ([]probe.Result[Connection], error)
}

// SystemInspector reads the local machine through gopsutil.
type SystemInspector struct{}

func (SystemInspector) Processes(ctx context.Context) ([]probe.Result[ProcessInfo], error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %v", ErrEnumerationDenied, err)
	}
	out := make([]probe.Result[ProcessInfo], 0, len(procs))
	for _, p := range procs {
		cmd, err := p.CmdlineWithContext(ctx)
		if err != nil {
			out = append(out, probe.Skip[ProcessInfo](classify(p.Pid, err)))
			continue
		}
		out = append(out, probe.Ok(ProcessInfo{PID: p.Pid, Cmdline: cmd, Stats: readStats(ctx, p)}))
	}
	return out, nil
}

func readStats(ctx context.Context, p *process.Process) *ProcessStats {
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return nil
	}
	mem, err := p.MemoryPercentWithContext(ctx)
	if err != nil {
		return nil
	}
	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		return nil
	}
	// Reading another user's fd table needs privileges the rest does not.
	fds, err := p.NumFDsWithContext(ctx)
	if err != nil {
		fds = 0
	}
	return &ProcessStats{
		CPUPercent: cpu,
		MemPercent: float64(mem),
		Threads:    float64(threads),
		OpenFDs:    float64(fds),
	}
}

func classify(pid int32, err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	return fmt.Errorf("%w: pid %d: %v", ErrEnumerationDenied, pid, err)
}

func (SystemInspector) Connections(ctx context.Context) ([]probe.Result[Connection], error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("%w: list connections: %v", ErrEnumerationDenied, err)
	}
	out := make([]probe.Result[Connection], 0, len(conns))
	for _, c := range conns {
		if c.Raddr.IP == "" {
			continue
		}
		out = append(out, probe.Ok(Connection{
			Status:     c.Status,
			RemoteIP:   c.Raddr.IP,
			RemotePort: c.Raddr.Port,
		}))
	}
	return out, nil
}
