// Package fixture describes synthetic traces as ordered lists of builder
// steps, either written in Go or loaded from JSON.
package fixture

import (
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"

	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/synth"
)

type Op string

const (
	OpAddPacket           Op = "add_packet"
	OpAddProcess          Op = "add_process"
	OpAddThread           Op = "add_thread"
	OpAddPackageList      Op = "add_package_list"
	OpAddFtracePacket     Op = "add_ftrace_packet"
	OpAddAtraceBegin      Op = "add_atrace_begin"
	OpAddAtraceEnd        Op = "add_atrace_end"
	OpAddAtraceAsyncBegin Op = "add_atrace_async_begin"
	OpAddAtraceAsyncEnd   Op = "add_atrace_async_end"
	OpAddAtraceInstant    Op = "add_atrace_instant"
	OpAddAtraceCounter    Op = "add_atrace_counter"
	OpAddPrint            Op = "add_print"
	OpAddSched            Op = "add_sched"
	OpAddSchedWakeup      Op = "add_sched_wakeup"
	OpAddSchedWaking      Op = "add_sched_waking"
	OpAddCPUFrequency     Op = "add_cpufreq"
	OpAddNewTask          Op = "add_newtask"
	OpAddRename           Op = "add_rename"
	OpAddProcessFree      Op = "add_process_free"
)

type (
	// Step is one builder call. Only the fields used by Op are read. A
	// missing TS uses the builder clock.
	Step struct {
		Op          Op     `json:"op"`
		TS          *int64 `json:"ts,omitempty"`
		CPU         int32  `json:"cpu,omitempty"`
		PID         int32  `json:"pid,omitempty"`
		PPID        int32  `json:"ppid,omitempty"`
		TID         int32  `json:"tid,omitempty"`
		Name        string `json:"name,omitempty"`
		Buf         string `json:"buf,omitempty"`
		UID         *int64 `json:"uid,omitempty"`
		VersionCode int64  `json:"version_code,omitempty"`
		Value       int64  `json:"value,omitempty"`
		PrevPID     int32  `json:"prev_pid,omitempty"`
		NextPID     int32  `json:"next_pid,omitempty"`
		PrevState   int64  `json:"prev_state,omitempty"`
		TargetCPU   int32  `json:"target_cpu,omitempty"`
		Freq        uint32 `json:"freq,omitempty"`
		NewTID      int32  `json:"new_tid,omitempty"`
		Comm        string `json:"comm,omitempty"`
		NewComm     string `json:"new_comm,omitempty"`
		Flags       uint64 `json:"flags,omitempty"`
		Prio        int32  `json:"prio,omitempty"`
	}

	Script struct {
		Name  string `json:"name"`
		Steps []Step `json:"steps"`
	}
)

func (s Step) ts() int64 {
	if s.TS == nil {
		return synth.AutoTimestamp
	}
	return *s.TS
}

func (s Step) Apply(b *synth.Builder) error {
	switch s.Op {
	case OpAddPacket:
		if s.TS == nil {
			b.AddPacket()
			return nil
		}
		return b.AddPacketAt(*s.TS)
	case OpAddProcess:
		var uid *int32
		if s.UID != nil {
			if *s.UID < math.MinInt32 || *s.UID > math.MaxInt32 {
				return fmt.Errorf("fixture: %w: process uid %d does not fit in 32 bits", errorutil.ErrValidation, *s.UID)
			}
			v := int32(*s.UID)
			uid = &v
		}
		return b.AddProcess(s.PID, s.PPID, s.Name, uid)
	case OpAddThread:
		return b.AddThread(s.TID, s.PID, s.Name)
	case OpAddPackageList:
		if s.UID == nil {
			return fmt.Errorf("fixture: %w: package %q needs a uid", errorutil.ErrValidation, s.Name)
		}
		return b.AddPackageList(s.ts(), s.Name, *s.UID, s.VersionCode)
	case OpAddFtracePacket:
		return b.AddFtracePacket(s.CPU)
	case OpAddAtraceBegin:
		return b.AddAtraceBegin(s.ts(), s.TID, s.PID, s.Buf)
	case OpAddAtraceEnd:
		return b.AddAtraceEnd(s.ts(), s.TID, s.PID)
	case OpAddAtraceAsyncBegin:
		return b.AddAtraceAsyncBegin(s.ts(), s.TID, s.PID, s.Buf)
	case OpAddAtraceAsyncEnd:
		return b.AddAtraceAsyncEnd(s.ts(), s.TID, s.PID, s.Buf)
	case OpAddAtraceInstant:
		return b.AddAtraceInstant(s.ts(), s.TID, s.PID, s.Buf)
	case OpAddAtraceCounter:
		return b.AddAtraceCounter(s.ts(), s.TID, s.PID, s.Buf, s.Value)
	case OpAddPrint:
		return b.AddPrint(s.ts(), s.TID, s.Buf)
	case OpAddSched:
		return b.AddSchedSwitch(s.ts(), s.PrevPID, s.NextPID, s.PrevState)
	case OpAddSchedWakeup:
		return b.AddSchedWakeup(s.ts(), s.TID, s.PID, s.TargetCPU)
	case OpAddSchedWaking:
		return b.AddSchedWaking(s.ts(), s.TID, s.PID, s.TargetCPU)
	case OpAddCPUFrequency:
		return b.AddCPUFrequency(s.ts(), s.CPU, s.Freq)
	case OpAddNewTask:
		return b.AddNewTask(s.ts(), s.TID, s.NewTID, s.Comm, s.Flags)
	case OpAddRename:
		return b.AddRename(s.ts(), s.TID, s.Comm, s.NewComm)
	case OpAddProcessFree:
		return b.AddProcessFree(s.ts(), s.TID, s.Comm, s.Prio)
	default:
		return fmt.Errorf("fixture: %w: unknown op %q", errorutil.ErrValidation, s.Op)
	}
}

// Run applies every step to a new builder and finalizes it. It stops at the
// first failing step.
func Run(script Script, opts ...synth.Option) (*synth.Trace, error) {
	b := synth.NewBuilder(opts...)
	for i, step := range script.Steps {
		if err := step.Apply(b); err != nil {
			return nil, fmt.Errorf("fixture: %s: step %d (%s): %w", script.Name, i, step.Op, err)
		}
	}
	return b.Finalize()
}

// Load reads a JSON script. Unknown fields are rejected so that typos in
// hand written fixtures don't go unnoticed.
func Load(r io.Reader) (Script, error) {
	var s Script
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("fixture: %w: %v", errorutil.ErrValidation, err)
	}
	if len(s.Steps) == 0 {
		return Script{}, fmt.Errorf("fixture: %w: script %q has no steps", errorutil.ErrValidation, s.Name)
	}
	return s, nil
}
