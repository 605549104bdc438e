package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeFlow  Type = "flow"
	TypeAlert Type = "alert"
	TypeDNS   Type = "dns"
	TypeTLS   Type = "tls"
	TypeHTTP  Type = "http"
	TypeQUIC  Type = "quic"
)

// Supported reports whether events of type t enter the pipeline.
func (t Type) Supported() bool {
	switch t {
	case TypeFlow, TypeAlert, TypeDNS, TypeTLS, TypeHTTP, TypeQUIC:
		return true
	}
	return false
}

// Event is one decoded record of the structured event log. Values are never
// mutated after Decode returns.
type Event struct {
	Type      Type   `json:"event_type"`
	Timestamp Scalar `json:"timestamp"`
	SrcIP     Scalar `json:"src_ip"`
	SrcPort   Scalar `json:"src_port"`
	DestIP    Scalar `json:"dest_ip"`
	DestPort  Scalar `json:"dest_port"`
	Proto     Scalar `json:"proto"`
	Flow      *Flow  `json:"flow,omitempty"`
	Alert     *Alert `json:"alert,omitempty"`
}

type Flow struct {
	PktsToServer  Scalar `json:"pkts_toserver"`
	PktsToClient  Scalar `json:"pkts_toclient"`
	BytesToServer Scalar `json:"bytes_toserver"`
	BytesToClient Scalar `json:"bytes_toclient"`
	Age           Scalar `json:"age"`
	FlowAge       Scalar `json:"flow_age"`
	Proto         Scalar `json:"proto"`
}

type Alert struct {
	Signature string `json:"signature"`
	Category  string `json:"category"`
	Severity  int    `json:"severity"`
}

// Time returns the event timestamp as seconds since the epoch. The second
// result is false when the timestamp is absent or unparsable.
func (e Event) Time() (float64, bool) {
	if !e.Timestamp.Present() {
		return 0, false
	}
	if f, err := e.Timestamp.Float(); err == nil {
		return f, true
	}
	s := e.Timestamp.String()
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
	}
	return 0, false
}

// BytesToServer returns flow.bytes_toserver, 0 when absent or not numeric.
func (e Event) BytesToServer() float64 {
	if e.Flow == nil {
		return 0
	}
	f, err := e.Flow.BytesToServer.Float()
	if err != nil {
		return 0
	}
	return f
}

// Signature is the IDS rule signature for alert events.
func (e Event) Signature() string {
	if e.Alert == nil {
		return ""
	}
	return e.Alert.Signature
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var (
	ErrDecode          = errors.New("malformed event line")
	ErrUnsupportedType = errors.New("unsupported event type")
)

// Decode parses one log line.
func Decode(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	var ev Event
	if len(line) == 0 {
		return ev, ErrDecode
	}
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, errors.Join(ErrDecode, err)
	}
	if !ev.Type.Supported() {
		return Event{}, ErrUnsupportedType
	}
	return ev, nil
}

// Scalar holds a JSON scalar in its textual form. Producers are inconsistent
// about quoting numbers, so conversion is deferred to the consumer.
type Scalar struct {
	text string
	set  bool
}

func Str(s string) Scalar { return Scalar{text: s, set: true} }

func Num(f float64) Scalar {
	return Scalar{text: strconv.FormatFloat(f, 'f', -1, 64), set: true}
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = Scalar{}
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Str(str)
	default:
		// Numbers, booleans and nested values are kept verbatim; nested ones
		// simply fail numeric coercion later.
		*s = Str(string(b))
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64)
	if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return json.Marshal(s.text)
}

func (s Scalar) Present() bool { return s.set }

func (s Scalar) String() string { return s.text }

func (s Scalar) Float() (float64, error) {
	if !s.set {
		return 0, errors.New("absent")
	}
	switch strings.ToLower(s.text) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}
