package synth

import (
	"errors"
	"testing"

	"github.com/getsentry/synthtrace/internal/atrace"
	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/event"
	"github.com/getsentry/synthtrace/internal/testutil"
)

func newFtraceBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	b := NewBuilder(opts...)
	if err := b.AddFtracePacket(0); err != nil {
		t.Fatalf("we should be able to open an ftrace packet: %v", err)
	}
	return b
}

func mustSucceed(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestAddProcess(t *testing.T) {
	b := NewBuilder()
	b.AddPacket()
	mustSucceed(t, b.AddProcess(1, 0, "init", nil))
	mustSucceed(t, b.AddProcess(2, 1, "system_server", nil))
	mustSucceed(t, b.AddProcess(3, 1, "com.google.android.calendar", testutil.Int32(10003)))

	assertIs(t, b.AddProcess(2, 1, "again", nil), errorutil.ErrDuplicateID)
	assertIs(t, b.AddProcess(4, 99, "orphan", nil), errorutil.ErrDanglingReference)
	assertIs(t, b.AddProcess(0, 0, "zero", nil), errorutil.ErrValidation)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	want := []event.Packet{
		{
			ProcessTree: &event.ProcessTree{
				Processes: []event.Process{
					{PID: 1, PPID: 0, Cmdline: []string{"init"}},
					{PID: 2, PPID: 1, Cmdline: []string{"system_server"}},
					{PID: 3, PPID: 1, Cmdline: []string{"com.google.android.calendar"}, UID: testutil.Int32(10003)},
				},
			},
		},
	}
	if diff := testutil.Diff(trace.Packets(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if trace.Stats().Processes != 3 {
		t.Fatalf("expected 3 processes, got %d", trace.Stats().Processes)
	}
}

func TestAddProcessWithoutPacket(t *testing.T) {
	b := NewBuilder()
	mustSucceed(t, b.AddProcess(1, 0, "init", nil))
	trace, err := b.Finalize()
	mustSucceed(t, err)
	if len(trace.Packets()) != 1 {
		t.Fatalf("a packet should have been opened implicitly, got %d packets", len(trace.Packets()))
	}
}

func TestAddThread(t *testing.T) {
	b := NewBuilder()
	mustSucceed(t, b.AddProcess(1, 0, "init", nil))
	mustSucceed(t, b.AddThread(1, 1, "init"))
	mustSucceed(t, b.AddThread(5, 1, "worker"))
	assertIs(t, b.AddThread(5, 1, "worker"), errorutil.ErrDuplicateID)
	assertIs(t, b.AddThread(6, 2, "lost"), errorutil.ErrDanglingReference)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	want := []event.Thread{{TID: 1, TGID: 1, Name: "init"}, {TID: 5, TGID: 1, Name: "worker"}}
	if diff := testutil.Diff(trace.Packets()[0].ProcessTree.Threads, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestAddPackageList(t *testing.T) {
	b := NewBuilder()
	mustSucceed(t, b.AddPackageList(1, "com.google.android.calendar", 10003, 123))
	assertIs(t, b.AddPackageList(-5, "x", 1, 1), errorutil.ErrValidation)
	assertIs(t, b.AddPackageList(1, "", 1, 1), errorutil.ErrValidation)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	want := []event.Packet{
		{
			Timestamp: testutil.Uint64(1),
			PackagesList: &event.PackagesList{
				Packages: []event.PackageInfo{{Name: "com.google.android.calendar", UID: 10003, VersionCode: 123}},
			},
		},
	}
	if diff := testutil.Diff(trace.Packets(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestRecordsNeedAnFtracePacket(t *testing.T) {
	b := NewBuilder()
	assertIs(t, b.AddAtraceInstant(1, 1, 1, "x"), errorutil.ErrValidation)

	b.AddPacket()
	assertIs(t, b.AddAtraceBegin(1, 1, 1, "x"), errorutil.ErrValidation)

	mustSucceed(t, b.AddFtracePacket(3))
	mustSucceed(t, b.AddAtraceInstant(1, 1, 1, "x"))

	mustSucceed(t, b.AddPackageList(2, "a", 1, 1))
	assertIs(t, b.AddPrint(3, 1, "x"), errorutil.ErrValidation)
	assertIs(t, b.AddFtracePacket(-1), errorutil.ErrValidation)
}

func TestBalancedSpansNest(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceBegin(10, 1, 1, "outer"))
	mustSucceed(t, b.AddAtraceBegin(11, 1, 1, "middle"))
	mustSucceed(t, b.AddAtraceBegin(12, 1, 1, "inner"))
	mustSucceed(t, b.AddAtraceEnd(13, 1, 1))
	mustSucceed(t, b.AddAtraceEnd(14, 1, 1))
	mustSucceed(t, b.AddAtraceBegin(15, 1, 1, "sibling"))
	mustSucceed(t, b.AddAtraceEnd(16, 1, 1))
	mustSucceed(t, b.AddAtraceEnd(17, 1, 1))

	trace, err := b.Finalize()
	mustSucceed(t, err)

	want := []Span{
		{ID: 0, Kind: SyncSpan, TID: 1, PID: 1, Name: "outer", Start: 10, End: 17, Closed: true, Depth: 0, ParentID: -1},
		{ID: 1, Kind: SyncSpan, TID: 1, PID: 1, Name: "middle", Start: 11, End: 14, Closed: true, Depth: 1, ParentID: 0},
		{ID: 2, Kind: SyncSpan, TID: 1, PID: 1, Name: "inner", Start: 12, End: 13, Closed: true, Depth: 2, ParentID: 1},
		{ID: 3, Kind: SyncSpan, TID: 1, PID: 1, Name: "sibling", Start: 15, End: 16, Closed: true, Depth: 1, ParentID: 0},
	}
	if diff := testutil.Diff(trace.Spans(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	var bufs []string
	for _, e := range trace.Packets()[0].Ftrace.Events {
		bufs = append(bufs, e.Payload.(atrace.Record).String())
	}
	wantBufs := []string{"B|1|outer", "B|1|middle", "B|1|inner", "E|1", "E|1", "B|1|sibling", "E|1", "E|1"}
	if diff := testutil.Diff(bufs, wantBufs); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestStacksArePerThread(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceBegin(10, 1, 1, "a"))
	mustSucceed(t, b.AddAtraceBegin(5, 2, 1, "b"))
	assertIs(t, b.AddAtraceEnd(6, 3, 1), errorutil.ErrUnbalancedSpan)
	assertIs(t, b.AddAtraceEnd(6, 1, 2), errorutil.ErrUnbalancedSpan)
	mustSucceed(t, b.AddAtraceEnd(6, 2, 1))
	mustSucceed(t, b.AddAtraceEnd(11, 1, 1))
	_, err := b.Finalize()
	mustSucceed(t, err)
}

func TestUnbalancedEndAppendsNothing(t *testing.T) {
	b := newFtraceBuilder(t)
	before, err := b.Finalize()
	mustSucceed(t, err)

	assertIs(t, b.AddAtraceEnd(1, 1, 1), errorutil.ErrUnbalancedSpan)

	after, err := b.Finalize()
	mustSucceed(t, err)
	if diff := testutil.Diff(after.Packets(), before.Packets()); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if after.Stats().FtraceRecords != 0 {
		t.Fatalf("no record should have been counted, got %d", after.Stats().FtraceRecords)
	}
}

func TestNonMonotonicSpans(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceBegin(10, 1, 1, "a"))
	assertIs(t, b.AddAtraceBegin(9, 1, 1, "b"), errorutil.ErrNonMonotonicTime)
	assertIs(t, b.AddAtraceEnd(9, 1, 1), errorutil.ErrNonMonotonicTime)
	mustSucceed(t, b.AddAtraceEnd(10, 1, 1))
	// The stack remembers its last timestamp after it empties.
	assertIs(t, b.AddAtraceBegin(3, 1, 1, "c"), errorutil.ErrNonMonotonicTime)
	// Other threads are unaffected.
	mustSucceed(t, b.AddAtraceBegin(3, 2, 2, "d"))
	mustSucceed(t, b.AddAtraceEnd(4, 2, 2))
}

func TestUnclosedSyncSpan(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceBegin(1, 1, 1, "closed"))
	mustSucceed(t, b.AddAtraceEnd(2, 1, 1))
	mustSucceed(t, b.AddAtraceBegin(3, 1, 1, "dangling"))
	_, err := b.Finalize()
	assertIs(t, err, errorutil.ErrUnclosedSpan)

	mustSucceed(t, b.AddAtraceEnd(4, 1, 1))
	_, err = b.Finalize()
	mustSucceed(t, err)
}

func TestAsyncSpansInterleave(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceAsyncBegin(1, 1, 1, "A"))
	mustSucceed(t, b.AddAtraceAsyncBegin(2, 1, 1, "B"))
	mustSucceed(t, b.AddAtraceAsyncEnd(3, 1, 1, "A"))
	mustSucceed(t, b.AddAtraceAsyncEnd(4, 1, 1, "B"))
	assertIs(t, b.AddAtraceAsyncEnd(5, 1, 1, "B"), errorutil.ErrUnmatchedAsyncEnd)
	assertIs(t, b.AddAtraceAsyncEnd(5, 1, 1, "never"), errorutil.ErrUnmatchedAsyncEnd)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	stats := trace.Stats()
	if stats.AsyncSpans != 2 || stats.ClosedAsyncSpans != 2 || stats.OpenAsyncSpans != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAsyncSpansAreCounted(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceAsyncBegin(1, 1, 7, "load"))
	mustSucceed(t, b.AddAtraceAsyncBegin(2, 2, 7, "load"))
	// Same name in another process is another key.
	assertIs(t, b.AddAtraceAsyncEnd(3, 1, 8, "load"), errorutil.ErrUnmatchedAsyncEnd)
	mustSucceed(t, b.AddAtraceAsyncEnd(3, 1, 7, "load"))
	mustSucceed(t, b.AddAtraceAsyncEnd(4, 2, 7, "load"))
	assertIs(t, b.AddAtraceAsyncEnd(5, 2, 7, "load"), errorutil.ErrUnmatchedAsyncEnd)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	spans := trace.Spans()
	if spans[0].End != 3 || spans[1].End != 4 {
		t.Fatalf("async ends should close the oldest open span first: %+v", spans)
	}
}

func TestEndWithoutFtracePacket(t *testing.T) {
	b := NewBuilder()
	assertIs(t, b.AddAtraceEnd(1, 1, 1), errorutil.ErrValidation)
	mustSucceed(t, b.AddFtracePacket(0))
	assertIs(t, b.AddAtraceEnd(1, 1, 1), errorutil.ErrUnbalancedSpan)
}

func TestAsyncEndSkipsLaterBegins(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceAsyncBegin(10, 1, 1, "A"))
	mustSucceed(t, b.AddAtraceAsyncBegin(5, 2, 1, "A"))
	mustSucceed(t, b.AddAtraceAsyncEnd(7, 2, 1, "A"))
	assertIs(t, b.AddAtraceAsyncEnd(8, 2, 1, "A"), errorutil.ErrNonMonotonicTime)
	mustSucceed(t, b.AddAtraceAsyncEnd(12, 1, 1, "A"))
	assertIs(t, b.AddAtraceAsyncEnd(13, 1, 1, "A"), errorutil.ErrUnmatchedAsyncEnd)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	want := []Span{
		{ID: 0, Kind: AsyncSpan, TID: 1, PID: 1, Name: "A", Start: 10, End: 12, Closed: true, ParentID: -1},
		{ID: 1, Kind: AsyncSpan, TID: 2, PID: 1, Name: "A", Start: 5, End: 7, Closed: true, ParentID: -1},
	}
	if diff := testutil.Diff(trace.Spans(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestAsyncEndBeforeBegin(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceAsyncBegin(10, 1, 1, "A"))
	assertIs(t, b.AddAtraceAsyncEnd(9, 1, 1, "A"), errorutil.ErrNonMonotonicTime)
}

func TestOpenAsyncSpansAreTolerated(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceAsyncBegin(1, 1, 1, "fire and forget"))
	trace, err := b.Finalize()
	mustSucceed(t, err)
	if trace.Stats().OpenAsyncSpans != 1 {
		t.Fatalf("expected one open async span, got %+v", trace.Stats())
	}
	if trace.Spans()[0].Duration() != 0 {
		t.Fatal("open spans have no duration")
	}
}

func TestInstantsAndCounters(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceInstant(1, 2, 2, "mark"))
	mustSucceed(t, b.AddAtraceCounter(2, 2, 2, "queue", 4))
	assertIs(t, b.AddAtraceInstant(3, 0, 2, "no thread"), errorutil.ErrValidation)
	assertIs(t, b.AddAtraceInstant(3, 2, 0, "no process"), errorutil.ErrValidation)
	assertIs(t, b.AddAtraceInstant(3, 2, 2, ""), errorutil.ErrValidation)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	stats := trace.Stats()
	if stats.Instants != 1 || stats.Counters != 1 || stats.FtraceRecords != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAutoTimestamp(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceInstant(AutoTimestamp, 1, 1, "first"))
	mustSucceed(t, b.AddAtraceInstant(50, 1, 1, "explicit"))
	mustSucceed(t, b.AddAtraceInstant(AutoTimestamp, 1, 1, "next"))
	assertIs(t, b.AddAtraceInstant(-2, 1, 1, "negative"), errorutil.ErrValidation)
	if b.Clock() != 51 {
		t.Fatalf("expected clock 51, got %d", b.Clock())
	}

	trace, err := b.Finalize()
	mustSucceed(t, err)
	var got []uint64
	for _, e := range trace.Packets()[0].Ftrace.Events {
		got = append(got, e.Timestamp)
	}
	if diff := testutil.Diff(got, []uint64{1, 50, 51}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestStrictPacketOrder(t *testing.T) {
	b := newFtraceBuilder(t, WithStrictPacketOrder())
	mustSucceed(t, b.AddAtraceAsyncBegin(100, 2, 2, "A"))
	mustSucceed(t, b.AddAtraceAsyncEnd(200, 2, 2, "A"))
	assertIs(t, b.AddAtraceBegin(105, 1, 1, "late"), errorutil.ErrNonMonotonicTime)

	// A new packet starts a new ordering.
	mustSucceed(t, b.AddFtracePacket(1))
	mustSucceed(t, b.AddAtraceBegin(105, 1, 1, "late"))
	mustSucceed(t, b.AddAtraceEnd(106, 1, 1))
}

func TestSchedRecords(t *testing.T) {
	b := NewBuilder()
	mustSucceed(t, b.AddProcess(10, 0, "app", nil))
	mustSucceed(t, b.AddThread(11, 10, "render"))
	mustSucceed(t, b.AddFtracePacket(1))
	mustSucceed(t, b.AddSchedSwitch(100, 0, 10, 0))
	mustSucceed(t, b.AddSchedWaking(101, 10, 11, 1))
	mustSucceed(t, b.AddSchedWakeup(102, 10, 11, 1))
	mustSucceed(t, b.AddNewTask(103, 10, 12, "pool", 0x100))
	mustSucceed(t, b.AddSchedSwitch(104, 10, 12, 1))
	mustSucceed(t, b.AddRename(105, 12, "pool", "decoder"))
	mustSucceed(t, b.AddCPUFrequency(106, 1, 1800000))
	mustSucceed(t, b.AddProcessFree(107, 12, "decoder", 120))
	assertIs(t, b.AddSchedSwitch(108, 12, 99, 0), errorutil.ErrDanglingReference)
	assertIs(t, b.AddCPUFrequency(108, -1, 1), errorutil.ErrValidation)
	assertIs(t, b.AddFtraceEvent(108, 1, atrace.Record{Phase: atrace.PhaseInstant, PID: 1, Name: "x"}), errorutil.ErrValidation)
	assertIs(t, b.AddFtraceEvent(108, 1, nil), errorutil.ErrValidation)

	trace, err := b.Finalize()
	mustSucceed(t, err)
	want := &event.FtraceBundle{
		CPU: 1,
		Events: []event.FtraceEvent{
			{Timestamp: 100, TID: 0, Payload: event.SchedSwitch{PrevComm: "swapper", PrevPID: 0, NextComm: "app", NextPID: 10}},
			{Timestamp: 101, TID: 10, Payload: event.SchedWaking{Comm: "render", PID: 11, Success: 1, TargetCPU: 1}},
			{Timestamp: 102, TID: 10, Payload: event.SchedWakeup{Comm: "render", PID: 11, Success: 1, TargetCPU: 1}},
			{Timestamp: 103, TID: 10, Payload: event.TaskNewtask{PID: 12, Comm: "pool", CloneFlags: 0x100}},
			{Timestamp: 104, TID: 0, Payload: event.SchedSwitch{PrevComm: "app", PrevPID: 10, PrevState: 1, NextComm: "pool", NextPID: 12}},
			{Timestamp: 105, TID: 12, Payload: event.TaskRename{PID: 12, OldComm: "pool", NewComm: "decoder"}},
			{Timestamp: 106, TID: 0, Payload: event.CPUFrequency{State: 1800000, CPUID: 1}},
			{Timestamp: 107, TID: 0, Payload: event.SchedProcessFree{Comm: "decoder", PID: 12, Prio: 120}},
		},
	}
	if diff := testutil.Diff(trace.Packets()[1].Ftrace, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestPrintCannotBypassPairing(t *testing.T) {
	b := newFtraceBuilder(t)
	for _, buf := range []string{"E|1", "B|1|x", "S|1|load|0", "F|1|load|0", "I|1|mark", "C|1|queue|3"} {
		assertIs(t, b.AddPrint(1, 1, buf), errorutil.ErrValidation)
		assertIs(t, b.AddFtraceEvent(1, 1, event.Print{Buf: buf}), errorutil.ErrValidation)
	}
	// Text that would not decode back into an annotation stays a print.
	mustSucceed(t, b.AddPrint(2, 1, "E|1\n"))
	mustSucceed(t, b.AddPrint(3, 1, "hello"))
	mustSucceed(t, b.AddFtraceEvent(4, 1, event.Print{IP: 0xffff, Buf: "E|1"}))

	trace, err := b.Finalize()
	mustSucceed(t, err)
	if got := trace.Stats(); got.FtraceRecords != 3 || got.SyncSpans != 0 {
		t.Fatalf("only the plain prints should be recorded: %+v", got)
	}
}

func TestFinalizeSnapshot(t *testing.T) {
	b := newFtraceBuilder(t)
	mustSucceed(t, b.AddAtraceInstant(1, 1, 1, "a"))
	first, err := b.Finalize()
	mustSucceed(t, err)
	mustSucceed(t, b.AddAtraceInstant(2, 1, 1, "b"))

	if n := len(first.Packets()[0].Ftrace.Events); n != 1 {
		t.Fatalf("a finalized trace should not observe later records, got %d", n)
	}
	packets := first.Packets()
	packets[0].Ftrace.Events[0].Timestamp = 99
	if first.Packets()[0].Ftrace.Events[0].Timestamp != 1 {
		t.Fatal("Packets should return a copy")
	}
}
