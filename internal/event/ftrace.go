package event

import (
	"fmt"

	"github.com/getsentry/synthtrace/internal/errorutil"
)

type (
	// Print is a raw trace_marker write that is not an atrace annotation.
	Print struct {
		IP  uint64 `json:"ip,omitempty"`
		Buf string `json:"buf"`
	}

	SchedSwitch struct {
		PrevComm  string `json:"prev_comm"`
		PrevPID   int32  `json:"prev_pid"`
		PrevPrio  int32  `json:"prev_prio,omitempty"`
		PrevState int64  `json:"prev_state,omitempty"`
		NextComm  string `json:"next_comm"`
		NextPID   int32  `json:"next_pid"`
		NextPrio  int32  `json:"next_prio,omitempty"`
	}

	SchedWakeup struct {
		Comm      string `json:"comm"`
		PID       int32  `json:"pid"`
		Prio      int32  `json:"prio,omitempty"`
		Success   int32  `json:"success,omitempty"`
		TargetCPU int32  `json:"target_cpu"`
	}

	// SchedWaking has the layout of SchedWakeup but is emitted from the
	// waker's context.
	SchedWaking SchedWakeup

	CPUFrequency struct {
		State uint32 `json:"state"`
		CPUID uint32 `json:"cpu_id"`
	}

	TaskNewtask struct {
		PID         int32  `json:"pid"`
		Comm        string `json:"comm"`
		CloneFlags  uint64 `json:"clone_flags,omitempty"`
		OomScoreAdj int32  `json:"oom_score_adj,omitempty"`
	}

	TaskRename struct {
		PID         int32  `json:"pid"`
		OldComm     string `json:"oldcomm"`
		NewComm     string `json:"newcomm"`
		OomScoreAdj int32  `json:"oom_score_adj,omitempty"`
	}

	SchedProcessFree struct {
		Comm string `json:"comm"`
		PID  int32  `json:"pid"`
		Prio int32  `json:"prio,omitempty"`
	}
)

func (Print) EventName() string            { return "print" }
func (SchedSwitch) EventName() string      { return "sched_switch" }
func (SchedWakeup) EventName() string      { return "sched_wakeup" }
func (SchedWaking) EventName() string      { return "sched_waking" }
func (CPUFrequency) EventName() string     { return "cpu_frequency" }
func (TaskNewtask) EventName() string      { return "task_newtask" }
func (TaskRename) EventName() string       { return "task_rename" }
func (SchedProcessFree) EventName() string { return "sched_process_free" }

func (p Print) Validate() error {
	return nil
}

func (s SchedSwitch) Validate() error {
	if s.PrevPID < 0 || s.NextPID < 0 {
		return fmt.Errorf("event: %w: sched_switch pids must not be negative", errorutil.ErrValidation)
	}
	return nil
}

func (s SchedWakeup) Validate() error {
	return validateWakeup(s.PID, s.TargetCPU)
}

func (s SchedWaking) Validate() error {
	return validateWakeup(s.PID, s.TargetCPU)
}

func validateWakeup(pid, cpu int32) error {
	if pid <= 0 {
		return fmt.Errorf("event: %w: woken pid must be positive, got %d", errorutil.ErrValidation, pid)
	}
	if cpu < 0 {
		return fmt.Errorf("event: %w: target cpu must not be negative, got %d", errorutil.ErrValidation, cpu)
	}
	return nil
}

func (c CPUFrequency) Validate() error {
	return nil
}

func (t TaskNewtask) Validate() error {
	if t.PID <= 0 {
		return fmt.Errorf("event: %w: new task pid must be positive, got %d", errorutil.ErrValidation, t.PID)
	}
	return nil
}

func (t TaskRename) Validate() error {
	if t.PID <= 0 {
		return fmt.Errorf("event: %w: renamed task pid must be positive, got %d", errorutil.ErrValidation, t.PID)
	}
	if t.NewComm == "" {
		return fmt.Errorf("event: %w: task %d renamed to an empty comm", errorutil.ErrValidation, t.PID)
	}
	return nil
}

func (s SchedProcessFree) Validate() error {
	if s.PID <= 0 {
		return fmt.Errorf("event: %w: freed pid must be positive, got %d", errorutil.ErrValidation, s.PID)
	}
	return nil
}
