package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/features"
	"hybrid_monitor/internal/fusion"
	"hybrid_monitor/internal/host"
	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/relay"
	"hybrid_monitor/internal/tail"
)

type constClassifier float64

func (c constClassifier) Predict(features.Vector) float64 { return float64(c) }

type recorder struct {
	mu      sync.Mutex
	records []alert.Record
}

func (r *recorder) Notify(_ context.Context, rec alert.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) all() []alert.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Record(nil), r.records...)
}

type harness struct {
	p        *Pipeline
	verdicts *bytes.Buffer
	alerts   *recorder
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, network, hostRisk float64) *harness {
	t.Helper()
	m := metrics.NewUnregistered()
	logger := zaptest.NewLogger(t)

	rcfg := relay.DefaultConfig()
	rcfg.LocalNetwork = "10.0.0.0/8"
	corr, err := relay.New(rcfg, m, "eve")
	require.NoError(t, err)

	rec := &recorder{}
	gate, err := alert.NewGate(alert.DefaultConfig(), rec, m, logger)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	p := New(Deps{
		Aligner:    features.NewAligner([]string{"dest_port"}, nil, 1),
		Classifier: constClassifier(network),
		Relay:      corr,
		Host:       host.Fixed(hostRisk),
		Combiner:   fusion.New(fusion.DefaultWeights()),
		Gate:       gate,
		Verdicts:   buf,
		Metrics:    m,
		Logger:     logger,
	})
	return &harness{p: p, verdicts: buf, alerts: rec, metrics: m}
}

func flow(ts float64, src, dest string, bytes float64) event.Event {
	return event.Event{
		Type:      event.TypeFlow,
		Timestamp: event.Num(ts),
		SrcIP:     event.Str(src),
		DestIP:    event.Str(dest),
		Flow:      &event.Flow{BytesToServer: event.Num(bytes)},
	}
}

func TestProcess_Benign(t *testing.T) {
	h := newHarness(t, 0.6, 0)

	v := h.p.Process(context.Background(), flow(1, "10.0.0.5", "10.0.0.6", 100))
	assert.Equal(t, fusion.Benign, v.Label)
	assert.InDelta(t, 0.3, v.FinalScore, 1e-9)
	assert.Empty(t, h.alerts.all())
	assert.Equal(t, "[HYBRID] BENIGN  Score=0.3000  (ANN=0.6000, Host=0.0000, Relay=no) src=10.0.0.5 dest=10.0.0.6\n", h.verdicts.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.VerdictsTotal.WithLabelValues("eve", "BENIGN")))
}

func TestProcess_SteppingStoneAlert(t *testing.T) {
	h := newHarness(t, 1.0, 0.6)
	ctx := context.Background()

	h.p.Process(ctx, flow(100, "198.51.100.7", "10.1.2.3", 1000))
	v := h.p.Process(ctx, flow(100.5, "10.1.2.3", "203.0.113.9", 1010))

	// 0.5 + 0.18 + 0.16
	assert.InDelta(t, 0.84, v.FinalScore, 1e-9)
	assert.True(t, v.Components.SteppingStone)

	alerts := h.alerts.all()
	require.Len(t, alerts, 1, "the inbound leg alone stays below the alert threshold")
	last := alerts[0]
	assert.Equal(t, AttackSteppingStone, last.AttackType)
	assert.Equal(t, "10.1.2.3", last.SourceIdentity)
	assert.Equal(t, alert.High, last.Severity)
	assert.Contains(t, last.Details, "198.51.100.7 -> 10.1.2.3 -> 203.0.113.9")
	assert.Contains(t, h.verdicts.String(), "Relay=yes")
}

func TestProcess_RelayOnlyForFlows(t *testing.T) {
	h := newHarness(t, 0, 0)
	ev := flow(100, "198.51.100.7", "10.1.2.3", 1000)
	ev.Type = event.TypeDNS

	h.p.Process(context.Background(), ev)
	assert.Zero(t, h.p.Relay.Len())
}

func TestProcess_Cooldown(t *testing.T) {
	h := newHarness(t, 1.0, 1.0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := h.p.Process(ctx, flow(float64(i), "10.0.0.5", "10.0.0.6", 10))
		assert.Equal(t, fusion.Malicious, v.Label)
	}
	assert.Len(t, h.alerts.all(), 1)
}

func TestProcess_ModelUnavailable(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.p.Classifier = nil

	v := h.p.Process(context.Background(), flow(1, "10.0.0.5", "10.0.0.6", 10))
	assert.Zero(t, v.Components.Network)
}

func TestProcess_CountsAlignmentRecoveries(t *testing.T) {
	h := newHarness(t, 0.1, 0)
	ev := flow(1, "10.0.0.5", "10.0.0.6", 10)
	ev.DestPort = event.Str("http")

	h.p.Process(context.Background(), ev)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FeatureCoercions))
}

func TestAttribution(t *testing.T) {
	ev := flow(1, "10.0.0.5", "8.8.8.8", 10)

	attack, src := Attribution(ev, true)
	assert.Equal(t, AttackSteppingStone, attack)
	assert.Equal(t, "10.0.0.5", src)

	ev.Alert = &event.Alert{Signature: "ET POLICY Reverse Shell"}
	attack, _ = Attribution(ev, false)
	assert.Equal(t, "ET POLICY Reverse Shell", attack)

	attack, src = Attribution(event.Event{}, false)
	assert.Equal(t, AttackHybrid, attack)
	assert.Equal(t, UnknownSource, src)
}

type sliceSource struct {
	events []event.Event
	tail   error
	closed bool
}

func (s *sliceSource) Next(context.Context) (event.Event, error) {
	if len(s.events) == 0 {
		return event.Event{}, s.tail
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func TestRun_ReplayEndsAtEOF(t *testing.T) {
	h := newHarness(t, 0.2, 0)
	src := &sliceSource{events: []event.Event{flow(1, "a", "b", 1), flow(2, "a", "b", 1)}, tail: io.EOF}

	require.NoError(t, h.p.Run(context.Background(), src))
	assert.Equal(t, 2, strings.Count(h.verdicts.String(), "[HYBRID]"))
}

func TestRun_FromTailedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	body := `{"event_type":"flow","timestamp":"2024-01-15T10:30:00.000000+0000","src_ip":"10.0.0.5","dest_ip":"10.0.0.6","dest_port":22,"flow":{"bytes_toserver":100}}
not json
{"event_type":"stats","timestamp":"2024-01-15T10:30:01.000000+0000"}
{"event_type":"alert","timestamp":"2024-01-15T10:30:02.000000+0000","src_ip":"10.0.0.7","dest_ip":"10.0.0.6","alert":{"signature":"ET SCAN"}}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	h := newHarness(t, 0.2, 0)
	src, err := tail.OpenReplay(path, tail.Options{Metrics: h.metrics})
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, h.p.Run(context.Background(), src))
	lines := strings.Split(strings.TrimSpace(h.verdicts.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "src=10.0.0.7")
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &sliceSource{tail: context.Canceled}
	assert.ErrorIs(t, h.p.Run(ctx, src), context.Canceled)
}

func TestRun_ReturnsReadErrors(t *testing.T) {
	h := newHarness(t, 0, 0)
	boom := errors.New("input/output error")
	assert.ErrorIs(t, h.p.Run(context.Background(), &sliceSource{tail: boom}), boom)
}

func TestSupervise_ReopensAfterFailure(t *testing.T) {
	h := newHarness(t, 0.2, 0)
	boom := errors.New("input/output error")

	var opened []*sliceSource
	open := func() (Source, error) {
		src := &sliceSource{events: []event.Event{flow(1, "a", "b", 1)}, tail: boom}
		if len(opened) == 2 {
			src.tail = io.EOF
		}
		opened = append(opened, src)
		return src, nil
	}

	require.NoError(t, Supervise(context.Background(), open, h.p, time.Millisecond))
	require.Len(t, opened, 3)
	for _, src := range opened {
		assert.True(t, src.closed)
	}
	assert.Equal(t, 3, strings.Count(h.verdicts.String(), "[HYBRID]"))
}

func TestSupervise_StartupFailure(t *testing.T) {
	h := newHarness(t, 0, 0)
	open := func() (Source, error) { return nil, tail.ErrSourceUnavailable }
	assert.ErrorIs(t, Supervise(context.Background(), open, h.p, time.Millisecond), tail.ErrSourceUnavailable)
}

func TestSupervise_CancelWhileWaiting(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	open := func() (Source, error) {
		calls++
		if calls > 1 {
			cancel()
			return nil, errors.New("still missing")
		}
		return &sliceSource{tail: errors.New("gone")}, nil
	}

	assert.NoError(t, Supervise(ctx, open, h.p, time.Millisecond))
}

func TestLogWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hybrid.log")
	w, err := OpenLog(path)
	require.NoError(t, err)

	p := New(Deps{Verdicts: w, Combiner: fusion.New(fusion.DefaultWeights())})
	p.Process(context.Background(), flow(1, "10.0.0.5", "10.0.0.6", 1))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[HYBRID] BENIGN  Score=0.0000"))
}
