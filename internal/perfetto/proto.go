// Package perfetto encodes synthetic traces in the protobuf format read by
// the Perfetto trace processor, and decodes them back.
//
// Only the subset of trace.proto written by the synth builder is supported.
// Fields are written in field number order, which is what the reference
// protobuf runtimes do, so the output is byte for byte identical to the
// Python fixtures.
package perfetto

import "google.golang.org/protobuf/encoding/protowire"

// Trace
const traceFieldPacket protowire.Number = 1

// TracePacket
const (
	packetFieldFtraceEvents protowire.Number = 1
	packetFieldProcessTree  protowire.Number = 2
	packetFieldTimestamp    protowire.Number = 8
	packetFieldPackagesList protowire.Number = 47
)

// ProcessTree
const (
	processTreeFieldProcesses protowire.Number = 1
	processTreeFieldThreads   protowire.Number = 2

	processFieldPID     protowire.Number = 1
	processFieldPPID    protowire.Number = 2
	processFieldCmdline protowire.Number = 3
	processFieldUID     protowire.Number = 5

	threadFieldTID  protowire.Number = 1
	threadFieldName protowire.Number = 2
	threadFieldTGID protowire.Number = 3
)

// PackagesList
const (
	packagesListFieldPackages protowire.Number = 1

	packageFieldName        protowire.Number = 1
	packageFieldUID         protowire.Number = 2
	packageFieldVersionCode protowire.Number = 5
)

// FtraceEventBundle and FtraceEvent
const (
	bundleFieldCPU   protowire.Number = 1
	bundleFieldEvent protowire.Number = 2

	ftraceFieldTimestamp        protowire.Number = 1
	ftraceFieldPID              protowire.Number = 2
	ftraceFieldPrint            protowire.Number = 3
	ftraceFieldSchedSwitch      protowire.Number = 4
	ftraceFieldCPUFrequency     protowire.Number = 11
	ftraceFieldSchedWakeup      protowire.Number = 17
	ftraceFieldSchedWaking      protowire.Number = 20
	ftraceFieldTaskNewtask      protowire.Number = 235
	ftraceFieldTaskRename       protowire.Number = 236
	ftraceFieldSchedProcessFree protowire.Number = 240
)

// Ftrace event payloads. Field 1 of most payloads is a comm or a pid, see
// the encoders for the exact layout of each one.
const (
	printFieldIP  protowire.Number = 1
	printFieldBuf protowire.Number = 2

	switchFieldPrevComm  protowire.Number = 1
	switchFieldPrevPID   protowire.Number = 2
	switchFieldPrevPrio  protowire.Number = 3
	switchFieldPrevState protowire.Number = 4
	switchFieldNextComm  protowire.Number = 5
	switchFieldNextPID   protowire.Number = 6
	switchFieldNextPrio  protowire.Number = 7

	wakeupFieldComm      protowire.Number = 1
	wakeupFieldPID       protowire.Number = 2
	wakeupFieldPrio      protowire.Number = 3
	wakeupFieldSuccess   protowire.Number = 4
	wakeupFieldTargetCPU protowire.Number = 5

	cpuFrequencyFieldState protowire.Number = 1
	cpuFrequencyFieldCPUID protowire.Number = 2

	newtaskFieldPID         protowire.Number = 1
	newtaskFieldComm        protowire.Number = 2
	newtaskFieldCloneFlags  protowire.Number = 3
	newtaskFieldOomScoreAdj protowire.Number = 4

	renameFieldPID         protowire.Number = 1
	renameFieldOldComm     protowire.Number = 2
	renameFieldNewComm     protowire.Number = 3
	renameFieldOomScoreAdj protowire.Number = 4

	processFreeFieldComm protowire.Number = 1
	processFreeFieldPID  protowire.Number = 2
	processFreeFieldPrio protowire.Number = 3
)
