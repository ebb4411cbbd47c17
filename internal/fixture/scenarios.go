package fixture

import (
	"sort"
)

var scenarios = map[string]func() Script{
	"android_startup_broadcast_multiple": AndroidStartupBroadcastMultiple,
	"process_lifecycle":                  ProcessLifecycle,
}

// Lookup returns the built-in scenario called name.
func Lookup(name string) (Script, bool) {
	fn, exists := scenarios[name]
	if !exists {
		return Script{}, false
	}
	return fn(), true
}

func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func at(ts int64) *int64 {
	return &ts
}

func uid(v int64) *int64 {
	return &v
}

// AndroidStartupBroadcastMultiple is an app launch overlapping with many
// broadcasts being dispatched from system_server and received by the app.
func AndroidStartupBroadcastMultiple() Script {
	s := Script{
		Name: "android_startup_broadcast_multiple",
		Steps: []Step{
			{Op: OpAddPacket},
			{Op: OpAddProcess, PID: 1, PPID: 0, Name: "init"},
			{Op: OpAddProcess, PID: 2, PPID: 1, Name: "system_server"},
			{Op: OpAddProcess, PID: 3, PPID: 1, Name: "com.google.android.calendar", UID: uid(10003)},
			{Op: OpAddPackageList, TS: at(1), Name: "com.google.android.calendar", UID: uid(10003), VersionCode: 123},
			{Op: OpAddFtracePacket, CPU: 0},
			{Op: OpAddAtraceAsyncBegin, TS: at(100), TID: 2, PID: 2, Buf: "launchingActivity#1"},
			{Op: OpAddAtraceAsyncEnd, TS: at(200), TID: 2, PID: 2, Buf: "launchingActivity#1"},
		},
	}
	for ts := int64(105); ts < 129; ts++ {
		s.Steps = append(s.Steps,
			Step{Op: OpAddAtraceBegin, TS: at(ts), TID: 1, PID: 1, Buf: "Broadcast dispatched from android (2005:system/1000) x"},
			Step{Op: OpAddAtraceEnd, TS: at(ts + 1), TID: 1, PID: 1},
		)
	}
	for ts := int64(100); ts < 152; ts++ {
		s.Steps = append(s.Steps,
			Step{Op: OpAddAtraceBegin, TS: at(ts), TID: 2, PID: 2, Buf: "broadcastReceiveReg: x"},
			Step{Op: OpAddAtraceEnd, TS: at(ts + 1), TID: 2, PID: 2},
		)
	}
	s.Steps = append(s.Steps, Step{
		Op:  OpAddAtraceInstant,
		TS:  at(201),
		TID: 2,
		PID: 2,
		Buf: "launchingActivity#1:completed:com.google.android.calendar",
	})
	return s
}

// ProcessLifecycle forks a worker thread, schedules it, renames it and
// frees it, with a frequency change in between.
func ProcessLifecycle() Script {
	return Script{
		Name: "process_lifecycle",
		Steps: []Step{
			{Op: OpAddPacket},
			{Op: OpAddProcess, PID: 1, PPID: 0, Name: "init"},
			{Op: OpAddProcess, PID: 10, PPID: 1, Name: "com.example.app", UID: uid(10010)},
			{Op: OpAddThread, TID: 11, PID: 10, Name: "RenderThread"},
			{Op: OpAddFtracePacket, CPU: 1},
			{Op: OpAddSched, TS: at(1000), PrevPID: 0, NextPID: 10},
			{Op: OpAddNewTask, TS: at(1010), TID: 10, NewTID: 12, Comm: "com.example.app", Flags: 0x3d0f00},
			{Op: OpAddSchedWaking, TS: at(1020), TID: 10, PID: 12, TargetCPU: 1},
			{Op: OpAddSched, TS: at(1030), PrevPID: 10, NextPID: 12, PrevState: 1},
			{Op: OpAddRename, TS: at(1040), TID: 12, Comm: "com.example.app", NewComm: "worker"},
			{Op: OpAddAtraceBegin, TS: at(1050), TID: 12, PID: 10, Buf: "doWork"},
			{Op: OpAddAtraceCounter, TS: at(1060), TID: 12, PID: 10, Buf: "queued", Value: 3},
			{Op: OpAddAtraceEnd, TS: at(1070), TID: 12, PID: 10},
			{Op: OpAddCPUFrequency, TS: at(1080), CPU: 1, Freq: 1400000},
			{Op: OpAddSched, TS: at(1090), PrevPID: 12, NextPID: 0, PrevState: 16},
			{Op: OpAddProcessFree, TS: at(1100), TID: 12, Comm: "worker", Prio: 120},
		},
	}
}
