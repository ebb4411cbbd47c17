package perfetto

import (
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/getsentry/synthtrace/internal/atrace"
	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/event"
	"github.com/getsentry/synthtrace/internal/synth"
)

// DefaultMaxLength is the largest length prefix protobuf parsers accept.
const DefaultMaxLength = math.MaxInt32

type (
	EncoderOption func(*Encoder)

	// Encoder serializes finalized traces. It holds no state between calls
	// and may be reused.
	Encoder struct {
		maxLength int
	}
)

// WithMaxLength lowers the largest string or nested message the encoder
// accepts.
func WithMaxLength(n int) EncoderOption {
	return func(e *Encoder) {
		if n >= 0 && n < DefaultMaxLength {
			e.maxLength = n
		}
	}
}

func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Marshal encodes t with the default encoder.
func Marshal(t *synth.Trace) ([]byte, error) {
	return NewEncoder().Marshal(t)
}

// Encode writes the whole trace to w in a single call. Nothing is written if
// encoding fails.
func (e *Encoder) Encode(w io.Writer, t *synth.Trace) error {
	b, err := e.Marshal(t)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (e *Encoder) Marshal(t *synth.Trace) ([]byte, error) {
	var out []byte
	err := t.Each(func(p event.Packet) error {
		msg, err := e.packet(p)
		if err != nil {
			return err
		}
		out, err = e.appendMessage(out, traceFieldPacket, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Encoder) packet(p event.Packet) ([]byte, error) {
	var (
		b   []byte
		msg []byte
		err error
	)
	if p.Ftrace != nil {
		if msg, err = e.ftraceBundle(*p.Ftrace); err != nil {
			return nil, err
		}
		if b, err = e.appendMessage(b, packetFieldFtraceEvents, msg); err != nil {
			return nil, err
		}
	}
	if p.ProcessTree != nil {
		if msg, err = e.processTree(*p.ProcessTree); err != nil {
			return nil, err
		}
		if b, err = e.appendMessage(b, packetFieldProcessTree, msg); err != nil {
			return nil, err
		}
	}
	if p.Timestamp != nil {
		b = appendVarint(b, packetFieldTimestamp, *p.Timestamp)
	}
	if p.PackagesList != nil {
		if msg, err = e.packagesList(*p.PackagesList); err != nil {
			return nil, err
		}
		if b, err = e.appendMessage(b, packetFieldPackagesList, msg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Encoder) processTree(tree event.ProcessTree) ([]byte, error) {
	var b []byte
	for _, p := range tree.Processes {
		msg := appendInt32(nil, processFieldPID, p.PID)
		msg = appendInt32(msg, processFieldPPID, p.PPID)
		var err error
		for _, arg := range p.Cmdline {
			if msg, err = e.appendString(msg, processFieldCmdline, arg); err != nil {
				return nil, err
			}
		}
		if p.UID != nil {
			msg = appendInt32(msg, processFieldUID, *p.UID)
		}
		if b, err = e.appendMessage(b, processTreeFieldProcesses, msg); err != nil {
			return nil, err
		}
	}
	for _, t := range tree.Threads {
		msg := appendInt32(nil, threadFieldTID, t.TID)
		var err error
		if t.Name != "" {
			if msg, err = e.appendString(msg, threadFieldName, t.Name); err != nil {
				return nil, err
			}
		}
		msg = appendInt32(msg, threadFieldTGID, t.TGID)
		if b, err = e.appendMessage(b, processTreeFieldThreads, msg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Encoder) packagesList(list event.PackagesList) ([]byte, error) {
	var b []byte
	for _, p := range list.Packages {
		msg, err := e.appendString(nil, packageFieldName, p.Name)
		if err != nil {
			return nil, err
		}
		msg = appendVarint(msg, packageFieldUID, p.UID)
		msg = appendVarint(msg, packageFieldVersionCode, uint64(p.VersionCode))
		if b, err = e.appendMessage(b, packagesListFieldPackages, msg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Encoder) ftraceBundle(bundle event.FtraceBundle) ([]byte, error) {
	b := appendVarint(nil, bundleFieldCPU, uint64(bundle.CPU))
	for _, ev := range bundle.Events {
		msg := appendVarint(nil, ftraceFieldTimestamp, ev.Timestamp)
		msg = appendVarint(msg, ftraceFieldPID, uint64(uint32(ev.TID)))
		num, payload, err := e.payload(ev.Payload)
		if err != nil {
			return nil, err
		}
		if msg, err = e.appendMessage(msg, num, payload); err != nil {
			return nil, err
		}
		if b, err = e.appendMessage(b, bundleFieldEvent, msg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Encoder) payload(p event.Payload) (protowire.Number, []byte, error) {
	var (
		b   []byte
		err error
	)
	switch v := p.(type) {
	case atrace.Record:
		b, err = e.appendString(nil, printFieldBuf, v.String())
		return ftraceFieldPrint, b, err
	case event.Print:
		b = appendOptionalVarint(nil, printFieldIP, v.IP)
		b, err = e.appendString(b, printFieldBuf, v.Buf)
		return ftraceFieldPrint, b, err
	case event.SchedSwitch:
		if b, err = e.appendString(nil, switchFieldPrevComm, v.PrevComm); err != nil {
			return 0, nil, err
		}
		b = appendInt32(b, switchFieldPrevPID, v.PrevPID)
		b = appendOptionalInt32(b, switchFieldPrevPrio, v.PrevPrio)
		b = appendOptionalVarint(b, switchFieldPrevState, uint64(v.PrevState))
		if b, err = e.appendString(b, switchFieldNextComm, v.NextComm); err != nil {
			return 0, nil, err
		}
		b = appendInt32(b, switchFieldNextPID, v.NextPID)
		b = appendOptionalInt32(b, switchFieldNextPrio, v.NextPrio)
		return ftraceFieldSchedSwitch, b, nil
	case event.SchedWakeup:
		b, err = e.wakeup(v)
		return ftraceFieldSchedWakeup, b, err
	case event.SchedWaking:
		b, err = e.wakeup(event.SchedWakeup(v))
		return ftraceFieldSchedWaking, b, err
	case event.CPUFrequency:
		b = appendVarint(nil, cpuFrequencyFieldState, uint64(v.State))
		b = appendVarint(b, cpuFrequencyFieldCPUID, uint64(v.CPUID))
		return ftraceFieldCPUFrequency, b, nil
	case event.TaskNewtask:
		b = appendInt32(nil, newtaskFieldPID, v.PID)
		if b, err = e.appendString(b, newtaskFieldComm, v.Comm); err != nil {
			return 0, nil, err
		}
		b = appendOptionalVarint(b, newtaskFieldCloneFlags, v.CloneFlags)
		b = appendOptionalInt32(b, newtaskFieldOomScoreAdj, v.OomScoreAdj)
		return ftraceFieldTaskNewtask, b, nil
	case event.TaskRename:
		b = appendInt32(nil, renameFieldPID, v.PID)
		if b, err = e.appendString(b, renameFieldOldComm, v.OldComm); err != nil {
			return 0, nil, err
		}
		if b, err = e.appendString(b, renameFieldNewComm, v.NewComm); err != nil {
			return 0, nil, err
		}
		b = appendOptionalInt32(b, renameFieldOomScoreAdj, v.OomScoreAdj)
		return ftraceFieldTaskRename, b, nil
	case event.SchedProcessFree:
		if b, err = e.appendString(nil, processFreeFieldComm, v.Comm); err != nil {
			return 0, nil, err
		}
		b = appendInt32(b, processFreeFieldPID, v.PID)
		b = appendOptionalInt32(b, processFreeFieldPrio, v.Prio)
		return ftraceFieldSchedProcessFree, b, nil
	default:
		return 0, nil, fmt.Errorf("perfetto: %w: unsupported ftrace payload %T", errorutil.ErrValidation, p)
	}
}

func (e *Encoder) wakeup(v event.SchedWakeup) ([]byte, error) {
	b, err := e.appendString(nil, wakeupFieldComm, v.Comm)
	if err != nil {
		return nil, err
	}
	b = appendInt32(b, wakeupFieldPID, v.PID)
	b = appendOptionalInt32(b, wakeupFieldPrio, v.Prio)
	b = appendOptionalInt32(b, wakeupFieldSuccess, v.Success)
	b = appendInt32(b, wakeupFieldTargetCPU, v.TargetCPU)
	return b, nil
}

func (e *Encoder) appendString(b []byte, num protowire.Number, s string) ([]byte, error) {
	if len(s) > e.maxLength {
		return nil, fmt.Errorf("perfetto: %w: field %d holds %d bytes of text, the limit is %d", errorutil.ErrEncodingOverflow, num, len(s), e.maxLength)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s), nil
}

func (e *Encoder) appendMessage(b []byte, num protowire.Number, msg []byte) ([]byte, error) {
	if len(msg) > e.maxLength {
		return nil, fmt.Errorf("perfetto: %w: message in field %d is %d bytes long, the limit is %d", errorutil.ErrEncodingOverflow, num, len(msg), e.maxLength)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg), nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendInt32 sign extends v like the int32 protobuf type does.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendOptionalVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	return appendVarint(b, num, v)
}

func appendOptionalInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	return appendInt32(b, num, v)
}
