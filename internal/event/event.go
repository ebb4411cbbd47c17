// Package event holds the value types a synthetic trace is made of and the
// validation predicates the builder runs before accepting them.
package event

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/getsentry/synthtrace/internal/atrace"
	"github.com/getsentry/synthtrace/internal/errorutil"
)

type (
	Process struct {
		PID     int32    `json:"pid"`
		PPID    int32    `json:"ppid"`
		Cmdline []string `json:"cmdline,omitempty"`
		UID     *int32   `json:"uid,omitempty"`
	}

	Thread struct {
		TID  int32  `json:"tid"`
		TGID int32  `json:"tgid"`
		Name string `json:"name,omitempty"`
	}

	ProcessTree struct {
		Processes []Process `json:"processes,omitempty"`
		Threads   []Thread  `json:"threads,omitempty"`
	}

	PackageInfo struct {
		Name        string `json:"name"`
		UID         uint64 `json:"uid"`
		VersionCode int64  `json:"version_code"`
	}

	PackagesList struct {
		Packages []PackageInfo `json:"packages,omitempty"`
	}

	// FtraceBundle is the set of records captured on a single CPU.
	FtraceBundle struct {
		CPU    uint32        `json:"cpu"`
		Events []FtraceEvent `json:"events,omitempty"`
	}

	FtraceEvent struct {
		Timestamp uint64 `json:"timestamp"`
		// TID is the thread that emitted the record. It is serialized in the
		// pid field of the ftrace event, like the kernel does.
		TID     int32   `json:"tid"`
		Payload Payload `json:"payload"`
	}

	// Packet is one entry of the trace. Any combination of its parts may be
	// set; nil parts are not serialized.
	Packet struct {
		Timestamp    *uint64       `json:"timestamp,omitempty"`
		ProcessTree  *ProcessTree  `json:"process_tree,omitempty"`
		PackagesList *PackagesList `json:"packages_list,omitempty"`
		Ftrace       *FtraceBundle `json:"ftrace_events,omitempty"`
	}
)

// Payload is the body of an ftrace record.
type Payload interface {
	// EventName is the kernel name of the ftrace event.
	EventName() string
	Validate() error
}

var _ Payload = atrace.Record{}

func NewProcess(pid, ppid int32, name string, uid *int32) (Process, error) {
	if err := ValidatePID(pid); err != nil {
		return Process{}, err
	}
	if ppid < 0 {
		return Process{}, fmt.Errorf("event: %w: parent pid must not be negative, got %d", errorutil.ErrValidation, ppid)
	}
	if name == "" {
		return Process{}, fmt.Errorf("event: %w: process %d needs a name", errorutil.ErrValidation, pid)
	}
	p := Process{PID: pid, PPID: ppid, Cmdline: []string{name}}
	if uid != nil {
		if *uid < 0 {
			return Process{}, fmt.Errorf("event: %w: uid must not be negative, got %d", errorutil.ErrValidation, *uid)
		}
		v := *uid
		p.UID = &v
	}
	return p, nil
}

// Name returns the first cmdline entry, which is the process name.
func (p Process) Name() string {
	if len(p.Cmdline) == 0 {
		return ""
	}
	return p.Cmdline[0]
}

func NewThread(tid, tgid int32, name string) (Thread, error) {
	if err := ValidatePID(tid); err != nil {
		return Thread{}, err
	}
	if err := ValidatePID(tgid); err != nil {
		return Thread{}, err
	}
	return Thread{TID: tid, TGID: tgid, Name: name}, nil
}

func NewPackageInfo(name string, uid, versionCode int64) (PackageInfo, error) {
	if name == "" {
		return PackageInfo{}, fmt.Errorf("event: %w: package needs a name", errorutil.ErrValidation)
	}
	if uid < 0 {
		return PackageInfo{}, fmt.Errorf("event: %w: uid must not be negative, got %d", errorutil.ErrValidation, uid)
	}
	if versionCode < 0 {
		return PackageInfo{}, fmt.Errorf("event: %w: version code must not be negative, got %d", errorutil.ErrValidation, versionCode)
	}
	return PackageInfo{Name: name, UID: uint64(uid), VersionCode: versionCode}, nil
}

func NewFtraceBundle(cpu int32) (FtraceBundle, error) {
	if cpu < 0 {
		return FtraceBundle{}, fmt.Errorf("event: %w: cpu must not be negative, got %d", errorutil.ErrValidation, cpu)
	}
	return FtraceBundle{CPU: uint32(cpu)}, nil
}

// NewFtraceEvent validates the record. A tid of 0 is the idle task and is
// accepted for scheduler records.
func NewFtraceEvent(ts int64, tid int32, payload Payload) (FtraceEvent, error) {
	if err := ValidateTimestamp(ts); err != nil {
		return FtraceEvent{}, err
	}
	if tid < 0 {
		return FtraceEvent{}, fmt.Errorf("event: %w: tid must not be negative, got %d", errorutil.ErrValidation, tid)
	}
	if payload == nil {
		return FtraceEvent{}, fmt.Errorf("event: %w: ftrace record needs a payload", errorutil.ErrValidation)
	}
	if err := payload.Validate(); err != nil {
		return FtraceEvent{}, err
	}
	return FtraceEvent{Timestamp: uint64(ts), TID: tid, Payload: payload}, nil
}

func ValidateTimestamp(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("event: %w: timestamp must not be negative, got %d", errorutil.ErrValidation, ts)
	}
	return nil
}

func ValidatePID(pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("event: %w: id must be positive, got %d", errorutil.ErrValidation, pid)
	}
	return nil
}

// Sorted reports whether the records of b have non-decreasing timestamps.
func (b FtraceBundle) Sorted() bool {
	last := uint64(0)
	for _, e := range b.Events {
		if e.Timestamp < last {
			return false
		}
		last = e.Timestamp
	}
	return true
}

// LastTimestamp returns the timestamp of the last record, or 0.
func (b FtraceBundle) LastTimestamp() uint64 {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].Timestamp
}

// Clone returns a deep copy of p.
func (p Packet) Clone() Packet {
	c := Packet{}
	if p.Timestamp != nil {
		ts := *p.Timestamp
		c.Timestamp = &ts
	}
	if p.ProcessTree != nil {
		tree := ProcessTree{
			Processes: make([]Process, 0, len(p.ProcessTree.Processes)),
			Threads:   append([]Thread(nil), p.ProcessTree.Threads...),
		}
		for _, proc := range p.ProcessTree.Processes {
			proc.Cmdline = append([]string(nil), proc.Cmdline...)
			if proc.UID != nil {
				uid := *proc.UID
				proc.UID = &uid
			}
			tree.Processes = append(tree.Processes, proc)
		}
		c.ProcessTree = &tree
	}
	if p.PackagesList != nil {
		c.PackagesList = &PackagesList{Packages: append([]PackageInfo(nil), p.PackagesList.Packages...)}
	}
	if p.Ftrace != nil {
		c.Ftrace = &FtraceBundle{
			CPU:    p.Ftrace.CPU,
			Events: append([]FtraceEvent(nil), p.Ftrace.Events...),
		}
	}
	return c
}

// MarshalJSON names the payload so dumped traces can be read back. Atrace
// records are written as their text.
func (e FtraceEvent) MarshalJSON() ([]byte, error) {
	var (
		name    string
		payload interface{} = e.Payload
	)
	if e.Payload != nil {
		name = e.Payload.EventName()
	}
	if r, ok := e.Payload.(atrace.Record); ok {
		payload = r.String()
	}
	return json.Marshal(struct {
		Timestamp uint64      `json:"timestamp"`
		TID       int32       `json:"tid"`
		Event     string      `json:"event"`
		Payload   interface{} `json:"payload"`
	}{
		Timestamp: e.Timestamp,
		TID:       e.TID,
		Event:     name,
		Payload:   payload,
	})
}
