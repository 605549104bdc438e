package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/metrics"
)

func flow(ts float64, src, dest string, bytes float64) event.Event {
	return event.Event{
		Type:      event.TypeFlow,
		Timestamp: event.Num(ts),
		SrcIP:     event.Str(src),
		DestIP:    event.Str(dest),
		Flow:      &event.Flow{BytesToServer: event.Num(bytes)},
	}
}

func newCorrelator(t *testing.T, cidr string) (*Correlator, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewUnregistered()
	cfg := DefaultConfig()
	cfg.LocalNetwork = cidr
	c, err := New(cfg, m, "eve")
	require.NoError(t, err)
	return c, m
}

func TestCheckRelay_Match(t *testing.T) {
	c, m := newCorrelator(t, "10.0.0.0/8")

	assert.Empty(t, c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000)))
	assert.Equal(t, 1, c.Len())

	got := c.CheckRelay(flow(100.5, "10.1.2.3", "203.0.113.9", 1010))
	assert.Equal(t, "[ALERT] Stepping Stone: 198.51.100.7 -> 10.1.2.3 -> 203.0.113.9 (Δt=0.50s, Δbytes=10)", got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayAlertsTotal))
}

func TestCheckRelay_TimeTooFar(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")

	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	assert.Empty(t, c.CheckRelay(flow(105, "10.1.2.3", "203.0.113.9", 1010)))
}

func TestCheckRelay_BytesTooFar(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")

	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	assert.Empty(t, c.CheckRelay(flow(100.5, "10.1.2.3", "203.0.113.9", 1100)), "diff of exactly 10% is not a match")
	assert.NotEmpty(t, c.CheckRelay(flow(100.6, "10.1.2.3", "203.0.113.9", 901)))
}

func TestCheckRelay_MultipleMatches(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")

	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	c.CheckRelay(flow(100.2, "198.51.100.8", "10.1.2.4", 1020))
	c.CheckRelay(flow(100.3, "198.51.100.9", "10.1.2.5", 5000))

	matches := c.Check(flow(100.5, "10.1.2.3", "203.0.113.9", 1010))
	require.Len(t, matches, 2)
	assert.Equal(t, "198.51.100.7", matches[0].External)
	assert.Equal(t, "198.51.100.8", matches[1].External)

	text := c.CheckRelay(flow(100.6, "10.1.2.3", "203.0.113.9", 1010))
	assert.Contains(t, text, "198.51.100.7 -> 10.1.2.3")
	assert.Contains(t, text, "198.51.100.8 -> 10.1.2.4")
	assert.Contains(t, text, "; ")
}

func TestCheckRelay_MissingFieldsLeaveWindowUntouched(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")
	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	before := c.Window()

	noSrc := flow(200, "", "10.1.2.3", 1000)
	noSrc.SrcIP = event.Scalar{}
	noDest := flow(200, "10.1.2.3", "", 1000)
	noDest.DestIP = event.Scalar{}
	noTime := flow(0, "198.51.100.7", "10.1.2.3", 1000)
	noTime.Timestamp = event.Scalar{}
	badTime := flow(0, "198.51.100.7", "10.1.2.3", 1000)
	badTime.Timestamp = event.Str("soon")

	for name, ev := range map[string]event.Event{"no src": noSrc, "no dest": noDest, "no time": noTime, "bad time": badTime} {
		assert.Empty(t, c.CheckRelay(ev), name)
		assert.Equal(t, before, c.Window(), name)
	}
}

func TestCheckRelay_PurgeByEventTime(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")

	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	c.CheckRelay(flow(103, "198.51.100.8", "10.1.2.4", 1000))
	assert.Equal(t, 2, c.Len())

	// Unrelated internal traffic still advances the correlator's clock.
	c.CheckRelay(flow(105, "10.1.2.3", "10.1.2.4", 10))
	window := c.Window()
	require.Len(t, window, 1)
	assert.Equal(t, 103.0, window[0].Time)

	c.CheckRelay(flow(200, "198.51.100.7", "203.0.113.1", 10))
	assert.Zero(t, c.Len())
}

func TestCheckRelay_PurgeAfterMatch(t *testing.T) {
	c, _ := newCorrelator(t, "10.0.0.0/8")

	c.CheckRelay(flow(100, "198.51.100.7", "10.1.2.3", 1000))
	c.CheckRelay(flow(104, "198.51.100.8", "10.1.2.4", 1000))
	assert.NotEmpty(t, c.CheckRelay(flow(105.5, "10.1.2.4", "203.0.113.9", 1000)))

	for _, cand := range c.Window() {
		assert.Less(t, 105.5-cand.Time, 5.0)
	}
}

func TestCheckRelay_DirectionClassification(t *testing.T) {
	c, _ := newCorrelator(t, "192.168.0.0/16")

	c.CheckRelay(flow(1, "192.168.1.5", "192.168.1.6", 100))
	c.CheckRelay(flow(1, "8.8.8.8", "1.1.1.1", 100))
	assert.Zero(t, c.Len(), "internal and transit traffic are not candidates")

	c.CheckRelay(flow(1, "not-an-ip", "192.168.1.6", 100))
	assert.Equal(t, 1, c.Len(), "an unparsable source counts as external")

	c.CheckRelay(flow(1, "::ffff:203.0.113.5", "::ffff:192.168.1.6", 100))
	assert.Equal(t, 2, c.Len(), "IPv4-mapped addresses are classified as IPv4")
}

func TestNew_InvalidCIDR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalNetwork = "10.0.0.0/33"
	_, err := New(cfg, nil, "eve")
	assert.Error(t, err)
}
