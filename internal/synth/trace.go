package synth

import (
	"github.com/getsentry/synthtrace/internal/event"
)

type SpanKind int

const (
	SyncSpan SpanKind = iota
	AsyncSpan
)

func (k SpanKind) String() string {
	if k == AsyncSpan {
		return "async"
	}
	return "sync"
}

// Span is derived from a begin record and its matching end record. IDs are
// assigned in begin order starting at 0.
type Span struct {
	ID    int      `json:"id"`
	Kind  SpanKind `json:"kind"`
	TID   int32    `json:"tid"`
	PID   int32    `json:"pid"`
	Name  string   `json:"name"`
	Start uint64   `json:"start"`
	End   uint64   `json:"end,omitempty"`
	// Closed is false for spans still open when the trace was finalized.
	// Only async spans can be left open.
	Closed bool `json:"closed"`
	// Depth and ParentID describe the nesting of sync spans on their thread.
	// ParentID is -1 for top level spans and for async spans.
	Depth    int `json:"depth"`
	ParentID int `json:"parent_id"`
}

func (s Span) Duration() uint64 {
	if !s.Closed {
		return 0
	}
	return s.End - s.Start
}

type Stats struct {
	Packets          int `json:"packets"`
	Processes        int `json:"processes"`
	Threads          int `json:"threads"`
	FtraceRecords    int `json:"ftrace_records"`
	SyncSpans        int `json:"sync_spans"`
	OpenSyncSpans    int `json:"open_sync_spans"`
	AsyncSpans       int `json:"async_spans"`
	ClosedAsyncSpans int `json:"closed_async_spans"`
	OpenAsyncSpans   int `json:"open_async_spans"`
	Instants         int `json:"instants"`
	Counters         int `json:"counters"`
}

// Trace is the immutable result of Builder.Finalize.
type Trace struct {
	packets []event.Packet
	spans   []Span
	stats   Stats
}

// NewTrace wraps already built packets, for instance the result of decoding
// a serialized trace. Spans are not derived.
func NewTrace(packets []event.Packet) *Trace {
	t := &Trace{packets: make([]event.Packet, 0, len(packets))}
	for _, p := range packets {
		t.packets = append(t.packets, p.Clone())
	}
	t.stats.Packets = len(packets)
	return t
}

// Packets returns a copy of the packets in insertion order.
func (t *Trace) Packets() []event.Packet {
	packets := make([]event.Packet, 0, len(t.packets))
	for _, p := range t.packets {
		packets = append(packets, p.Clone())
	}
	return packets
}

// Each calls fn on every packet in insertion order without copying. fn must
// not modify the packet.
func (t *Trace) Each(fn func(event.Packet) error) error {
	for _, p := range t.packets {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trace) Spans() []Span {
	return append([]Span(nil), t.spans...)
}

func (t *Trace) Stats() Stats {
	return t.stats
}
