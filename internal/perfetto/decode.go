package perfetto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/getsentry/synthtrace/internal/atrace"
	"github.com/getsentry/synthtrace/internal/errorutil"
	"github.com/getsentry/synthtrace/internal/event"
	"github.com/getsentry/synthtrace/internal/synth"
)

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) int32() int32 {
	return int32(f.varint)
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("perfetto: %w: field %d has wire type %d, expected %d", errorutil.ErrDataIntegrity, f.num, f.typ, typ)
	}
	return nil
}

// walk calls fn for every varint and length delimited field of b. Other
// wire types are skipped since nothing we decode uses them.
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("perfetto: %w: bad tag: %v", errorutil.ErrDataIntegrity, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("perfetto: %w: field %d: %v", errorutil.ErrDataIntegrity, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("perfetto: %w: field %d: %v", errorutil.ErrDataIntegrity, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes a serialized trace. Print records holding canonical
// atrace text are returned as atrace.Record payloads. Unknown fields are
// ignored.
func Unmarshal(b []byte) (*synth.Trace, error) {
	packets, err := DecodePackets(b)
	if err != nil {
		return nil, err
	}
	return synth.NewTrace(packets), nil
}

func DecodePackets(b []byte) ([]event.Packet, error) {
	var packets []event.Packet
	err := walk(b, func(f field) error {
		if f.num != traceFieldPacket {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		p, err := decodePacket(f.bytes)
		if err != nil {
			return err
		}
		packets = append(packets, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return packets, nil
}

func decodePacket(b []byte) (event.Packet, error) {
	var p event.Packet
	err := walk(b, func(f field) error {
		switch f.num {
		case packetFieldFtraceEvents:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			if p.Ftrace == nil {
				p.Ftrace = &event.FtraceBundle{}
			}
			return decodeBundle(f.bytes, p.Ftrace)
		case packetFieldProcessTree:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			if p.ProcessTree == nil {
				p.ProcessTree = &event.ProcessTree{}
			}
			return decodeProcessTree(f.bytes, p.ProcessTree)
		case packetFieldTimestamp:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			ts := f.varint
			p.Timestamp = &ts
		case packetFieldPackagesList:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			if p.PackagesList == nil {
				p.PackagesList = &event.PackagesList{}
			}
			return decodePackagesList(f.bytes, p.PackagesList)
		}
		return nil
	})
	return p, err
}

func decodeProcessTree(b []byte, tree *event.ProcessTree) error {
	return walk(b, func(f field) error {
		switch f.num {
		case processTreeFieldProcesses:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			var p event.Process
			err := walk(f.bytes, func(f field) error {
				switch f.num {
				case processFieldPID:
					p.PID = f.int32()
				case processFieldPPID:
					p.PPID = f.int32()
				case processFieldCmdline:
					if err := f.expect(protowire.BytesType); err != nil {
						return err
					}
					p.Cmdline = append(p.Cmdline, string(f.bytes))
				case processFieldUID:
					uid := f.int32()
					p.UID = &uid
				}
				return nil
			})
			if err != nil {
				return err
			}
			tree.Processes = append(tree.Processes, p)
		case processTreeFieldThreads:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			var t event.Thread
			err := walk(f.bytes, func(f field) error {
				switch f.num {
				case threadFieldTID:
					t.TID = f.int32()
				case threadFieldName:
					t.Name = string(f.bytes)
				case threadFieldTGID:
					t.TGID = f.int32()
				}
				return nil
			})
			if err != nil {
				return err
			}
			tree.Threads = append(tree.Threads, t)
		}
		return nil
	})
}

func decodePackagesList(b []byte, list *event.PackagesList) error {
	return walk(b, func(f field) error {
		if f.num != packagesListFieldPackages {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		var info event.PackageInfo
		err := walk(f.bytes, func(f field) error {
			switch f.num {
			case packageFieldName:
				info.Name = string(f.bytes)
			case packageFieldUID:
				info.UID = f.varint
			case packageFieldVersionCode:
				info.VersionCode = int64(f.varint)
			}
			return nil
		})
		if err != nil {
			return err
		}
		list.Packages = append(list.Packages, info)
		return nil
	})
}

// decodeBundle merges b into bundle. A repeated bundle field keeps the last
// cpu and appends the records.
func decodeBundle(b []byte, bundle *event.FtraceBundle) error {
	return walk(b, func(f field) error {
		switch f.num {
		case bundleFieldCPU:
			bundle.CPU = uint32(f.varint)
		case bundleFieldEvent:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			e, err := decodeFtraceEvent(f.bytes)
			if err != nil {
				return err
			}
			bundle.Events = append(bundle.Events, e)
		}
		return nil
	})
}

func decodeFtraceEvent(b []byte) (event.FtraceEvent, error) {
	var e event.FtraceEvent
	err := walk(b, func(f field) error {
		switch f.num {
		case ftraceFieldTimestamp:
			e.Timestamp = f.varint
			return nil
		case ftraceFieldPID:
			e.TID = int32(uint32(f.varint))
			return nil
		}
		if f.typ != protowire.BytesType {
			return nil
		}
		var err error
		switch f.num {
		case ftraceFieldPrint:
			e.Payload, err = decodePrint(f.bytes)
		case ftraceFieldSchedSwitch:
			e.Payload, err = decodeSchedSwitch(f.bytes)
		case ftraceFieldSchedWakeup:
			e.Payload, err = decodeWakeup(f.bytes)
		case ftraceFieldSchedWaking:
			var w event.SchedWakeup
			w, err = decodeWakeup(f.bytes)
			e.Payload = event.SchedWaking(w)
		case ftraceFieldCPUFrequency:
			e.Payload, err = decodeCPUFrequency(f.bytes)
		case ftraceFieldTaskNewtask:
			e.Payload, err = decodeNewtask(f.bytes)
		case ftraceFieldTaskRename:
			e.Payload, err = decodeRename(f.bytes)
		case ftraceFieldSchedProcessFree:
			e.Payload, err = decodeProcessFree(f.bytes)
		}
		return err
	})
	if err != nil {
		return event.FtraceEvent{}, err
	}
	if e.Payload == nil {
		return event.FtraceEvent{}, fmt.Errorf("perfetto: %w: ftrace event at %d has no supported payload", errorutil.ErrDataIntegrity, e.Timestamp)
	}
	return e, nil
}

func decodePrint(b []byte) (event.Payload, error) {
	var p event.Print
	err := walk(b, func(f field) error {
		switch f.num {
		case printFieldIP:
			p.IP = f.varint
		case printFieldBuf:
			p.Buf = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.IP != 0 {
		return p, nil
	}
	// Only canonical text is turned back into a record so that encoding the
	// result gives back the same bytes.
	if r, ok := atrace.Canonical(p.Buf); ok {
		return r, nil
	}
	return p, nil
}

func decodeSchedSwitch(b []byte) (event.SchedSwitch, error) {
	var s event.SchedSwitch
	err := walk(b, func(f field) error {
		switch f.num {
		case switchFieldPrevComm:
			s.PrevComm = string(f.bytes)
		case switchFieldPrevPID:
			s.PrevPID = f.int32()
		case switchFieldPrevPrio:
			s.PrevPrio = f.int32()
		case switchFieldPrevState:
			s.PrevState = int64(f.varint)
		case switchFieldNextComm:
			s.NextComm = string(f.bytes)
		case switchFieldNextPID:
			s.NextPID = f.int32()
		case switchFieldNextPrio:
			s.NextPrio = f.int32()
		}
		return nil
	})
	return s, err
}

func decodeWakeup(b []byte) (event.SchedWakeup, error) {
	var w event.SchedWakeup
	err := walk(b, func(f field) error {
		switch f.num {
		case wakeupFieldComm:
			w.Comm = string(f.bytes)
		case wakeupFieldPID:
			w.PID = f.int32()
		case wakeupFieldPrio:
			w.Prio = f.int32()
		case wakeupFieldSuccess:
			w.Success = f.int32()
		case wakeupFieldTargetCPU:
			w.TargetCPU = f.int32()
		}
		return nil
	})
	return w, err
}

func decodeCPUFrequency(b []byte) (event.CPUFrequency, error) {
	var c event.CPUFrequency
	err := walk(b, func(f field) error {
		switch f.num {
		case cpuFrequencyFieldState:
			c.State = uint32(f.varint)
		case cpuFrequencyFieldCPUID:
			c.CPUID = uint32(f.varint)
		}
		return nil
	})
	return c, err
}

func decodeNewtask(b []byte) (event.TaskNewtask, error) {
	var t event.TaskNewtask
	err := walk(b, func(f field) error {
		switch f.num {
		case newtaskFieldPID:
			t.PID = f.int32()
		case newtaskFieldComm:
			t.Comm = string(f.bytes)
		case newtaskFieldCloneFlags:
			t.CloneFlags = f.varint
		case newtaskFieldOomScoreAdj:
			t.OomScoreAdj = f.int32()
		}
		return nil
	})
	return t, err
}

func decodeRename(b []byte) (event.TaskRename, error) {
	var t event.TaskRename
	err := walk(b, func(f field) error {
		switch f.num {
		case renameFieldPID:
			t.PID = f.int32()
		case renameFieldOldComm:
			t.OldComm = string(f.bytes)
		case renameFieldNewComm:
			t.NewComm = string(f.bytes)
		case renameFieldOomScoreAdj:
			t.OomScoreAdj = f.int32()
		}
		return nil
	})
	return t, err
}

func decodeProcessFree(b []byte) (event.SchedProcessFree, error) {
	var s event.SchedProcessFree
	err := walk(b, func(f field) error {
		switch f.num {
		case processFreeFieldComm:
			s.Comm = string(f.bytes)
		case processFreeFieldPID:
			s.PID = f.int32()
		case processFreeFieldPrio:
			s.Prio = f.int32()
		}
		return nil
	})
	return s, err
}
