package synth

import (
	"fmt"

	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/event"
)

func (b *Builder) comm(pid int32) (string, error) {
	c, exists := b.comms[pid]
	if !exists {
		return "", fmt.Errorf("synth: %w: no comm known for %d", errorutil.ErrDanglingReference, pid)
	}
	return c, nil
}

// AddPrint appends a raw trace_marker write.
func (b *Builder) AddPrint(ts int64, tid int32, buf string) error {
	return b.AddFtraceEvent(ts, tid, event.Print{Buf: buf})
}

// AddSchedSwitch appends a context switch on the cpu of the open packet. The
// comms are looked up from the registered processes, threads and tasks.
func (b *Builder) AddSchedSwitch(ts int64, prevPID, nextPID int32, prevState int64) error {
	prevComm, err := b.comm(prevPID)
	if err != nil {
		return err
	}
	nextComm, err := b.comm(nextPID)
	if err != nil {
		return err
	}
	return b.AddFtraceEvent(ts, 0, event.SchedSwitch{
		PrevComm:  prevComm,
		PrevPID:   prevPID,
		PrevState: prevState,
		NextComm:  nextComm,
		NextPID:   nextPID,
	})
}

// AddSchedWakeup appends a wakeup of pid emitted by tid.
func (b *Builder) AddSchedWakeup(ts int64, tid, pid, targetCPU int32) error {
	comm, err := b.comm(pid)
	if err != nil {
		return err
	}
	return b.AddFtraceEvent(ts, tid, event.SchedWakeup{Comm: comm, PID: pid, Success: 1, TargetCPU: targetCPU})
}

func (b *Builder) AddSchedWaking(ts int64, tid, pid, targetCPU int32) error {
	comm, err := b.comm(pid)
	if err != nil {
		return err
	}
	return b.AddFtraceEvent(ts, tid, event.SchedWaking{Comm: comm, PID: pid, Success: 1, TargetCPU: targetCPU})
}

func (b *Builder) AddCPUFrequency(ts int64, cpu int32, freq uint32) error {
	if cpu < 0 {
		return fmt.Errorf("synth: %w: cpu must not be negative, got %d", errorutil.ErrValidation, cpu)
	}
	return b.AddFtraceEvent(ts, 0, event.CPUFrequency{State: freq, CPUID: uint32(cpu)})
}

// AddNewTask records tid forking newTID. The new task's comm becomes known
// to later scheduler records.
func (b *Builder) AddNewTask(ts int64, tid, newTID int32, comm string, flags uint64) error {
	err := b.AddFtraceEvent(ts, tid, event.TaskNewtask{PID: newTID, Comm: comm, CloneFlags: flags})
	if err != nil {
		return err
	}
	b.comms[newTID] = comm
	return nil
}

func (b *Builder) AddRename(ts int64, tid int32, oldComm, newComm string) error {
	err := b.AddFtraceEvent(ts, tid, event.TaskRename{PID: tid, OldComm: oldComm, NewComm: newComm})
	if err != nil {
		return err
	}
	b.comms[tid] = newComm
	return nil
}

// AddProcessFree records the task struct of tid being released.
func (b *Builder) AddProcessFree(ts int64, tid int32, comm string, prio int32) error {
	return b.AddFtraceEvent(ts, 0, event.SchedProcessFree{Comm: comm, PID: tid, Prio: prio})
}
