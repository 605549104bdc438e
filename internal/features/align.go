package features

import (
	"strconv"

	"github.com/google/gopacket/layers"

	"hybrid_monitor/internal/event"
)

const ColumnTimestamp = "timestamp"

// Canonical column names an event can populate.
const (
	ColSrcIP         = "src_ip"
	ColSrcPort       = "src_port"
	ColDestIP        = "dest_ip"
	ColDestPort      = "dest_port"
	ColProto         = "proto"
	ColPktsToServer  = "pkts_toserver"
	ColPktsToClient  = "pkts_toclient"
	ColBytesToServer = "bytes_toserver"
	ColBytesToClient = "bytes_toclient"
	ColFlowAge       = "flow_age"
)

// Vector is an ordered numeric feature array aligned to a schema.
type Vector []float64

// Stats reports the recoveries made while aligning one event.
type Stats struct {
	Coerced int
	Unseen  []string
}

// Align maps ev onto columns and returns a vector of exactly dim values.
//
// Columns the event cannot populate are 0. Columns with an encoder are
// label-encoded; all other columns except the timestamp are coerced to
// numbers and fall back to 0. The timestamp column is dropped. The result is
// then cut to the first dim values or zero-padded to dim. That last step
// silently hides schema drift between the event producer and the trained
// classifier: a reordered or extended schema still yields a vector of the
// right shape but possibly the wrong meaning.
func Align(ev event.Event, columns []string, encoders map[string]Encoder, dim int) (Vector, Stats) {
	var stats Stats
	row := canonical(ev)

	out := make(Vector, 0, len(columns))
	for _, col := range columns {
		if col == ColumnTimestamp {
			continue
		}
		val, ok := row[col]
		if !ok {
			out = append(out, 0)
			continue
		}
		if enc, has := encoders[col]; has {
			code, seen := enc.Transform(val.String())
			if !seen {
				stats.Unseen = append(stats.Unseen, col)
			}
			out = append(out, float64(code))
			continue
		}
		f, err := val.Float()
		if err != nil {
			if val.Present() {
				stats.Coerced++
			}
			f = 0
		}
		out = append(out, f)
	}

	if dim < 0 {
		dim = 0
	}
	if len(out) > dim {
		return out[:dim:dim], stats
	}
	for len(out) < dim {
		out = append(out, 0)
	}
	return out, stats
}

// canonical builds the canonical field set of an event. Absent values stay
// absent so that Align can tell "missing" from "not a number".
func canonical(ev event.Event) map[string]event.Scalar {
	flow := ev.Flow
	if flow == nil {
		flow = &event.Flow{}
	}
	proto := ev.Proto
	if !proto.Present() {
		proto = flow.Proto
	}
	age := flow.Age
	if !age.Present() {
		age = flow.FlowAge
	}
	return map[string]event.Scalar{
		ColSrcIP:         orEmpty(ev.SrcIP),
		ColSrcPort:       ev.SrcPort,
		ColDestIP:        orEmpty(ev.DestIP),
		ColDestPort:      ev.DestPort,
		ColProto:         orEmpty(NormalizeProto(proto)),
		ColPktsToServer:  flow.PktsToServer,
		ColPktsToClient:  flow.PktsToClient,
		ColBytesToServer: flow.BytesToServer,
		ColBytesToClient: flow.BytesToClient,
		ColFlowAge:       age,
	}
}

func orEmpty(s event.Scalar) event.Scalar {
	if s.Present() {
		return s
	}
	return event.Str("")
}

// NormalizeProto turns an IANA protocol number into the name the IDS uses
// ("6" -> "TCP"). Names pass through unchanged.
func NormalizeProto(proto event.Scalar) event.Scalar {
	if !proto.Present() {
		return proto
	}
	n, err := strconv.ParseUint(proto.String(), 10, 8)
	if err != nil {
		return proto
	}
	switch p := layers.IPProtocol(n); p {
	case layers.IPProtocolICMPv4:
		return event.Str("ICMP")
	case layers.IPProtocolICMPv6:
		return event.Str("IPv6-ICMP")
	default:
		if name := p.String(); name != "" && name != "UnknownIPProtocol" {
			return event.Str(name)
		}
		return proto
	}
}

// Aligner binds a schema, its encoders and the classifier dimension.
type Aligner struct {
	columns  []string
	encoders map[string]Encoder
	dim      int
}

func NewAligner(columns []string, encoders map[string]Encoder, dim int) *Aligner {
	return &Aligner{columns: columns, encoders: encoders, dim: dim}
}

func (a *Aligner) Align(ev event.Event) (Vector, Stats) {
	return Align(ev, a.columns, a.encoders, a.dim)
}

func (a *Aligner) Dim() int { return a.dim }
