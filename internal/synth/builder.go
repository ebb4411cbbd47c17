// Package synth builds synthetic traces one record at a time while enforcing
// the pairing and ordering rules the trace processor relies on.
//
// A Builder is not safe for concurrent use. Every Add method either appends
// exactly one record or returns an error and leaves the builder untouched.
package synth

import (
	"fmt"

	"github.com/getsentry/synthtrace/internal/atrace"
	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/event"
)

// AutoTimestamp can be passed wherever a timestamp is expected to use the
// next tick of the builder clock.
const AutoTimestamp int64 = -1

type (
	threadKey struct {
		tid int32
		pid int32
	}

	asyncKey struct {
		name string
		pid  int32
	}

	spanStack struct {
		open []int
		last uint64
	}

	Option func(*Builder)

	Builder struct {
		packets []event.Packet
		// current is the index of the packet records are appended to, or -1.
		current int

		processes map[int32]event.Process
		threads   map[int32]event.Thread
		comms     map[int32]string

		stacks map[threadKey]*spanStack
		// async holds the IDs of the open spans per key in begin order.
		async map[asyncKey][]int
		spans []Span

		clock uint64
		stats Stats

		strictPacketOrder bool
	}
)

// WithStrictPacketOrder rejects records older than the last record of the
// open ftrace packet.
func WithStrictPacketOrder() Option {
	return func(b *Builder) {
		b.strictPacketOrder = true
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		current:   -1,
		processes: make(map[int32]event.Process),
		threads:   make(map[int32]event.Thread),
		comms:     map[int32]string{0: "swapper"},
		stacks:    make(map[threadKey]*spanStack),
		async:     make(map[asyncKey][]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Clock returns the largest timestamp accepted so far.
func (b *Builder) Clock() uint64 {
	return b.clock
}

func (b *Builder) resolve(ts int64) (uint64, error) {
	if ts == AutoTimestamp {
		return b.clock + 1, nil
	}
	if err := event.ValidateTimestamp(ts); err != nil {
		return 0, err
	}
	return uint64(ts), nil
}

func (b *Builder) tick(ts uint64) {
	if ts > b.clock {
		b.clock = ts
	}
}

// AddPacket starts a new packet without a timestamp. Processes added
// afterwards are attached to it.
func (b *Builder) AddPacket() {
	b.packets = append(b.packets, event.Packet{})
	b.current = len(b.packets) - 1
	b.stats.Packets++
}

// AddPacketAt starts a new packet with a timestamp.
func (b *Builder) AddPacketAt(ts int64) error {
	t, err := b.resolve(ts)
	if err != nil {
		return err
	}
	b.AddPacket()
	b.packets[b.current].Timestamp = &t
	b.tick(t)
	return nil
}

func (b *Builder) currentPacket() *event.Packet {
	if b.current < 0 {
		b.AddPacket()
	}
	return &b.packets[b.current]
}

// AddProcess registers a process in the process tree of the current packet.
// parentPID must be 0 or a process added earlier.
func (b *Builder) AddProcess(pid, parentPID int32, name string, uid *int32) error {
	p, err := event.NewProcess(pid, parentPID, name, uid)
	if err != nil {
		return err
	}
	if _, exists := b.processes[pid]; exists {
		return fmt.Errorf("synth: %w: process %d is already registered", errorutil.ErrDuplicateID, pid)
	}
	if parentPID != 0 {
		if _, exists := b.processes[parentPID]; !exists {
			return fmt.Errorf("synth: %w: parent %d of process %d was never added", errorutil.ErrDanglingReference, parentPID, pid)
		}
	}

	packet := b.currentPacket()
	if packet.ProcessTree == nil {
		packet.ProcessTree = &event.ProcessTree{}
	}
	packet.ProcessTree.Processes = append(packet.ProcessTree.Processes, p)
	b.processes[pid] = p
	b.comms[pid] = name
	b.stats.Processes++
	return nil
}

// AddThread registers a thread of an already added process.
func (b *Builder) AddThread(tid, tgid int32, name string) error {
	t, err := event.NewThread(tid, tgid, name)
	if err != nil {
		return err
	}
	if _, exists := b.threads[tid]; exists {
		return fmt.Errorf("synth: %w: thread %d is already registered", errorutil.ErrDuplicateID, tid)
	}
	if _, exists := b.processes[tgid]; !exists {
		return fmt.Errorf("synth: %w: process %d of thread %d was never added", errorutil.ErrDanglingReference, tgid, tid)
	}

	packet := b.currentPacket()
	if packet.ProcessTree == nil {
		packet.ProcessTree = &event.ProcessTree{}
	}
	packet.ProcessTree.Threads = append(packet.ProcessTree.Threads, t)
	b.threads[tid] = t
	if name != "" {
		b.comms[tid] = name
	}
	b.stats.Threads++
	return nil
}

// AddPackageList appends a timestamped packet listing a single package.
func (b *Builder) AddPackageList(ts int64, name string, uid, versionCode int64) error {
	t, err := b.resolve(ts)
	if err != nil {
		return err
	}
	info, err := event.NewPackageInfo(name, uid, versionCode)
	if err != nil {
		return err
	}
	b.AddPacket()
	packet := &b.packets[b.current]
	packet.Timestamp = &t
	packet.PackagesList = &event.PackagesList{Packages: []event.PackageInfo{info}}
	b.tick(t)
	return nil
}

// AddFtracePacket opens a new packet for the records of cpu. It replaces the
// previously open packet.
func (b *Builder) AddFtracePacket(cpu int32) error {
	bundle, err := event.NewFtraceBundle(cpu)
	if err != nil {
		return err
	}
	b.AddPacket()
	b.packets[b.current].Ftrace = &bundle
	return nil
}

// prepare validates a record against the open packet without appending it.
func (b *Builder) prepare(ts int64, tid int32, payload event.Payload) (event.FtraceEvent, error) {
	if b.current < 0 || b.packets[b.current].Ftrace == nil {
		return event.FtraceEvent{}, fmt.Errorf("synth: %w: no ftrace packet is open for %s", errorutil.ErrValidation, payload.EventName())
	}
	t, err := b.resolve(ts)
	if err != nil {
		return event.FtraceEvent{}, err
	}
	e, err := event.NewFtraceEvent(int64(t), tid, payload)
	if err != nil {
		return event.FtraceEvent{}, err
	}
	if b.strictPacketOrder {
		if last := b.packets[b.current].Ftrace.LastTimestamp(); e.Timestamp < last {
			return event.FtraceEvent{}, fmt.Errorf("synth: %w: %s at %d is older than the last record of the packet at %d", errorutil.ErrNonMonotonicTime, payload.EventName(), e.Timestamp, last)
		}
	}
	return e, nil
}

func (b *Builder) commit(e event.FtraceEvent) {
	bundle := b.packets[b.current].Ftrace
	bundle.Events = append(bundle.Events, e)
	b.tick(e.Timestamp)
	b.stats.FtraceRecords++
}

// AddFtraceEvent appends an arbitrary record to the open ftrace packet.
// Atrace annotations, including print records whose buffer holds atrace
// text, must go through the AddAtrace methods so they are paired.
func (b *Builder) AddFtraceEvent(ts int64, tid int32, payload event.Payload) error {
	if payload == nil {
		return fmt.Errorf("synth: %w: ftrace record needs a payload", errorutil.ErrValidation)
	}
	switch p := payload.(type) {
	case atrace.Record:
		return fmt.Errorf("synth: %w: atrace records must go through the AddAtrace methods", errorutil.ErrValidation)
	case event.Print:
		if _, ok := atrace.Canonical(p.Buf); ok && p.IP == 0 {
			return fmt.Errorf("synth: %w: print %q is an atrace %v, use the AddAtrace methods", errorutil.ErrValidation, p.Buf, atrace.Phase(p.Buf[0]))
		}
	}
	e, err := b.prepare(ts, tid, payload)
	if err != nil {
		return err
	}
	b.commit(e)
	return nil
}

func (b *Builder) stack(key threadKey) *spanStack {
	s, exists := b.stacks[key]
	if !exists {
		s = &spanStack{}
		b.stacks[key] = s
	}
	return s
}

func (b *Builder) prepareAtrace(ts int64, tid int32, r atrace.Record) (event.FtraceEvent, error) {
	if err := event.ValidatePID(tid); err != nil {
		return event.FtraceEvent{}, err
	}
	return b.prepare(ts, tid, r)
}

// AddAtraceBegin opens a synchronous span on the (tid, pid) thread.
func (b *Builder) AddAtraceBegin(ts int64, tid, pid int32, buf string) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseBegin, PID: pid, Name: buf})
	if err != nil {
		return err
	}
	key := threadKey{tid: tid, pid: pid}
	if s, exists := b.stacks[key]; exists && e.Timestamp < s.last {
		return fmt.Errorf("synth: %w: begin of %q at %d on thread %d/%d is older than %d", errorutil.ErrNonMonotonicTime, buf, e.Timestamp, tid, pid, s.last)
	}

	s := b.stack(key)
	span := Span{
		ID:       len(b.spans),
		Kind:     SyncSpan,
		TID:      tid,
		PID:      pid,
		Name:     buf,
		Start:    e.Timestamp,
		Depth:    len(s.open),
		ParentID: -1,
	}
	if len(s.open) > 0 {
		span.ParentID = s.open[len(s.open)-1]
	}
	b.commit(e)
	b.spans = append(b.spans, span)
	s.open = append(s.open, span.ID)
	s.last = e.Timestamp
	b.stats.SyncSpans++
	return nil
}

// AddAtraceEnd closes the most recently opened span on the (tid, pid) thread.
// Without an open ftrace packet it fails with ErrValidation before the span
// stack is looked at, so an unmatched end is only reported as
// ErrUnbalancedSpan once a packet is open.
func (b *Builder) AddAtraceEnd(ts int64, tid, pid int32) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseEnd, PID: pid})
	if err != nil {
		return err
	}
	key := threadKey{tid: tid, pid: pid}
	s, exists := b.stacks[key]
	if !exists || len(s.open) == 0 {
		return fmt.Errorf("synth: %w: end at %d on thread %d/%d has no open begin", errorutil.ErrUnbalancedSpan, e.Timestamp, tid, pid)
	}
	if e.Timestamp < s.last {
		return fmt.Errorf("synth: %w: end at %d on thread %d/%d is older than %d", errorutil.ErrNonMonotonicTime, e.Timestamp, tid, pid, s.last)
	}

	id := s.open[len(s.open)-1]
	b.commit(e)
	s.open = s.open[:len(s.open)-1]
	s.last = e.Timestamp
	b.spans[id].End = e.Timestamp
	b.spans[id].Closed = true
	return nil
}

// AddAtraceAsyncBegin opens an async span keyed by (buf, pid). Several spans
// with the same key may be open at once.
func (b *Builder) AddAtraceAsyncBegin(ts int64, tid, pid int32, buf string) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseAsyncBegin, PID: pid, Name: buf})
	if err != nil {
		return err
	}
	key := asyncKey{name: buf, pid: pid}
	span := Span{
		ID:       len(b.spans),
		Kind:     AsyncSpan,
		TID:      tid,
		PID:      pid,
		Name:     buf,
		Start:    e.Timestamp,
		ParentID: -1,
	}
	b.commit(e)
	b.spans = append(b.spans, span)
	b.async[key] = append(b.async[key], span.ID)
	b.stats.AsyncSpans++
	return nil
}

// AddAtraceAsyncEnd closes the earliest started async span keyed by
// (buf, pid) that began at or before ts.
func (b *Builder) AddAtraceAsyncEnd(ts int64, tid, pid int32, buf string) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseAsyncEnd, PID: pid, Name: buf})
	if err != nil {
		return err
	}
	key := asyncKey{name: buf, pid: pid}
	open := b.async[key]
	if len(open) == 0 {
		return fmt.Errorf("synth: %w: %q of process %d is not open", errorutil.ErrUnmatchedAsyncEnd, buf, pid)
	}
	at := -1
	for i, id := range open {
		start := b.spans[id].Start
		if start <= e.Timestamp && (at < 0 || start < b.spans[open[at]].Start) {
			at = i
		}
	}
	if at < 0 {
		return fmt.Errorf("synth: %w: end of %q at %d is older than every open begin", errorutil.ErrNonMonotonicTime, buf, e.Timestamp)
	}
	id := open[at]

	b.commit(e)
	if len(open) == 1 {
		delete(b.async, key)
	} else {
		rest := make([]int, 0, len(open)-1)
		rest = append(rest, open[:at]...)
		b.async[key] = append(rest, open[at+1:]...)
	}
	b.spans[id].End = e.Timestamp
	b.spans[id].Closed = true
	return nil
}

// AddAtraceInstant appends a zero duration marker.
func (b *Builder) AddAtraceInstant(ts int64, tid, pid int32, buf string) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseInstant, PID: pid, Name: buf})
	if err != nil {
		return err
	}
	b.commit(e)
	b.stats.Instants++
	return nil
}

// AddAtraceCounter sets the value of a process scoped counter.
func (b *Builder) AddAtraceCounter(ts int64, tid, pid int32, name string, value int64) error {
	e, err := b.prepareAtrace(ts, tid, atrace.Record{Phase: atrace.PhaseCounter, PID: pid, Name: name, Value: value})
	if err != nil {
		return err
	}
	b.commit(e)
	b.stats.Counters++
	return nil
}

// Finalize returns a snapshot of the trace. It fails if a synchronous span
// is still open. Open async spans are reported in the stats.
func (b *Builder) Finalize() (*Trace, error) {
	stats := b.stats
	for _, s := range b.spans {
		switch {
		case s.Kind == SyncSpan && !s.Closed:
			stats.OpenSyncSpans++
		case s.Kind == AsyncSpan && s.Closed:
			stats.ClosedAsyncSpans++
		case s.Kind == AsyncSpan:
			stats.OpenAsyncSpans++
		}
	}
	if stats.OpenSyncSpans > 0 {
		for _, s := range b.spans {
			if s.Kind == SyncSpan && !s.Closed {
				return nil, fmt.Errorf("synth: %w: %d spans still open, first is %q at %d on thread %d/%d", errorutil.ErrUnclosedSpan, stats.OpenSyncSpans, s.Name, s.Start, s.TID, s.PID)
			}
		}
	}

	t := &Trace{
		packets: make([]event.Packet, 0, len(b.packets)),
		spans:   append([]Span(nil), b.spans...),
		stats:   stats,
	}
	for _, p := range b.packets {
		t.packets = append(t.packets, p.Clone())
	}
	return t, nil
}
