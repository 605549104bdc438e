package relay

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/metrics"
)

type Config struct {
	LocalNetwork     string
	TimeThreshold    float64
	ByteThresholdPct float64
	// Retention is how long, in event time, an inbound candidate is kept.
	Retention float64
}

func DefaultConfig() Config {
	return Config{
		LocalNetwork:     "192.168.0.0/16",
		TimeThreshold:    2.0,
		ByteThresholdPct: 0.1,
		Retention:        5.0,
	}
}

// Candidate is an inbound flow that may be the first leg of a relay.
type Candidate struct {
	Time  float64
	Bytes float64
	Src   string
	Dest  string
}

// Match is one inbound/outbound pair close enough in time and volume.
type Match struct {
	External  string
	Relay     string
	Dest      string
	TimeDelta float64
	ByteDelta float64
}

func (m Match) String() string {
	return fmt.Sprintf("[ALERT] Stepping Stone: %s -> %s -> %s (Δt=%.2fs, Δbytes=%s)",
		m.External, m.Relay, m.Dest, m.TimeDelta, strconv.FormatFloat(m.ByteDelta, 'f', -1, 64))
}

// Correlator matches outbound flows from the local network against recent
// inbound flows. Its clock is the timestamp of the events it is fed, never
// the wall clock, so replaying a log gives the same matches.
type Correlator struct {
	cfg     Config
	local   netip.Prefix
	metrics *metrics.Metrics
	stream  string

	mu     sync.Mutex
	window []Candidate
}

func New(cfg Config, m *metrics.Metrics, stream string) (*Correlator, error) {
	prefix, err := netip.ParsePrefix(cfg.LocalNetwork)
	if err != nil {
		return nil, fmt.Errorf("local network %q: %w", cfg.LocalNetwork, err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Correlator{cfg: cfg, local: prefix.Masked(), metrics: m, stream: stream}, nil
}

func (c *Correlator) isLocal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return c.local.Contains(addr.Unmap())
}

// CheckRelay feeds ev to the correlator and returns the alert text for every
// match, joined with "; ", or "" when there is none.
func (c *Correlator) CheckRelay(ev event.Event) string {
	matches := c.Check(ev)
	if len(matches) == 0 {
		return ""
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = m.String()
	}
	return strings.Join(lines, "; ")
}

// Check is CheckRelay returning structured matches. Events without source,
// destination or a usable timestamp are ignored and leave the window as is.
func (c *Correlator) Check(ev event.Event) []Match {
	src, dest := ev.SrcIP.String(), ev.DestIP.String()
	ts, ok := ev.Time()
	if src == "" || dest == "" || !ok {
		return nil
	}
	bytes := ev.BytesToServer()

	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []Match
	srcLocal, destLocal := c.isLocal(src), c.isLocal(dest)
	switch {
	case !srcLocal && destLocal:
		c.window = append(c.window, Candidate{Time: ts, Bytes: bytes, Src: src, Dest: dest})
	case srcLocal && !destLocal:
		for _, cand := range c.window {
			dt := math.Abs(ts - cand.Time)
			db := math.Abs(bytes - cand.Bytes)
			if dt < c.cfg.TimeThreshold && db < cand.Bytes*c.cfg.ByteThresholdPct {
				matches = append(matches, Match{
					External:  cand.Src,
					Relay:     cand.Dest,
					Dest:      dest,
					TimeDelta: dt,
					ByteDelta: db,
				})
			}
		}
	}

	c.purge(ts)

	if c.metrics != nil {
		c.metrics.RelayWindowSize.WithLabelValues(c.stream).Set(float64(len(c.window)))
		if len(matches) > 0 {
			c.metrics.RelayAlertsTotal.Add(float64(len(matches)))
		}
	}
	return matches
}

// purge drops candidates at least Retention older than now. Filtering in
// place keeps the window ordered by arrival.
func (c *Correlator) purge(now float64) {
	kept := c.window[:0]
	for _, cand := range c.window {
		if now-cand.Time < c.cfg.Retention {
			kept = append(kept, cand)
		}
	}
	for i := len(kept); i < len(c.window); i++ {
		c.window[i] = Candidate{}
	}
	c.window = kept
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window)
}

// Window returns a copy of the current candidates.
func (c *Correlator) Window() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Candidate(nil), c.window...)
}
