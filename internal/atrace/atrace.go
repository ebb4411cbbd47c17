// Package atrace formats and parses the userspace annotations written by
// Android's atrace into the ftrace print buffer.
package atrace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/getsentry/synthtrace/internal/errorutil"
)

type Phase byte

const (
	PhaseBegin      Phase = 'B'
	PhaseEnd        Phase = 'E'
	PhaseAsyncBegin Phase = 'S'
	PhaseAsyncEnd   Phase = 'F'
	PhaseInstant    Phase = 'I'
	PhaseCounter    Phase = 'C'
)

func (p Phase) String() string {
	switch p {
	case PhaseBegin:
		return "begin"
	case PhaseEnd:
		return "end"
	case PhaseAsyncBegin:
		return "async_begin"
	case PhaseAsyncEnd:
		return "async_end"
	case PhaseInstant:
		return "instant"
	case PhaseCounter:
		return "counter"
	default:
		return fmt.Sprintf("unknown(%q)", byte(p))
	}
}

// Record is a single atrace annotation. Cookie is only meaningful for async
// phases and Value only for counters.
type Record struct {
	Phase  Phase  `json:"phase"`
	PID    int32  `json:"pid"`
	Name   string `json:"name,omitempty"`
	Cookie int64  `json:"cookie,omitempty"`
	Value  int64  `json:"value,omitempty"`
}

// EventName returns the ftrace event carrying the record.
func (r Record) EventName() string {
	return "print"
}

func (r Record) Validate() error {
	if r.PID <= 0 {
		return fmt.Errorf("atrace: %w: pid must be positive, got %d", errorutil.ErrValidation, r.PID)
	}
	switch r.Phase {
	case PhaseEnd:
		if r.Name != "" {
			return fmt.Errorf("atrace: %w: end records carry no name", errorutil.ErrValidation)
		}
		return nil
	case PhaseBegin, PhaseAsyncBegin, PhaseAsyncEnd, PhaseInstant, PhaseCounter:
	default:
		return fmt.Errorf("atrace: %w: unknown phase %v", errorutil.ErrValidation, r.Phase)
	}
	if r.Name == "" {
		return fmt.Errorf("atrace: %w: %v record needs a name", errorutil.ErrValidation, r.Phase)
	}
	if strings.ContainsRune(r.Name, '\n') {
		return fmt.Errorf("atrace: %w: name %q contains a line break", errorutil.ErrValidation, r.Name)
	}
	return nil
}

// String returns the print buffer for the record.
func (r Record) String() string {
	pid := strconv.FormatInt(int64(r.PID), 10)
	switch r.Phase {
	case PhaseEnd:
		return "E|" + pid
	case PhaseAsyncBegin, PhaseAsyncEnd:
		return string(r.Phase) + "|" + pid + "|" + r.Name + "|" + strconv.FormatInt(r.Cookie, 10)
	case PhaseCounter:
		return "C|" + pid + "|" + r.Name + "|" + strconv.FormatInt(r.Value, 10)
	default:
		return string(r.Phase) + "|" + pid + "|" + r.Name
	}
}

// Parse reads a print buffer. It returns an error wrapping
// errorutil.ErrValidation if buf is not an atrace annotation.
func Parse(buf string) (Record, error) {
	buf = strings.TrimSuffix(buf, "\n")
	if len(buf) < 3 || buf[1] != '|' {
		return Record{}, fmt.Errorf("atrace: %w: %q is not an atrace annotation", errorutil.ErrValidation, buf)
	}
	r := Record{Phase: Phase(buf[0])}
	rest := buf[2:]

	var pid string
	switch r.Phase {
	case PhaseEnd:
		pid = rest
	case PhaseBegin, PhaseInstant:
		i := strings.IndexByte(rest, '|')
		if i < 0 {
			return Record{}, fmt.Errorf("atrace: %w: %q has no name", errorutil.ErrValidation, buf)
		}
		pid, r.Name = rest[:i], rest[i+1:]
	case PhaseAsyncBegin, PhaseAsyncEnd, PhaseCounter:
		i := strings.IndexByte(rest, '|')
		j := strings.LastIndexByte(rest, '|')
		if i < 0 || i == j {
			return Record{}, fmt.Errorf("atrace: %w: %q is missing fields", errorutil.ErrValidation, buf)
		}
		pid, r.Name = rest[:i], rest[i+1:j]
		n, err := strconv.ParseInt(rest[j+1:], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("atrace: %w: %q: %v", errorutil.ErrValidation, buf, err)
		}
		if r.Phase == PhaseCounter {
			r.Value = n
		} else {
			r.Cookie = n
		}
	default:
		return Record{}, fmt.Errorf("atrace: %w: unknown phase in %q", errorutil.ErrValidation, buf)
	}

	p, err := strconv.ParseInt(pid, 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("atrace: %w: bad pid in %q: %v", errorutil.ErrValidation, buf, err)
	}
	r.PID = int32(p)
	return r, nil
}

// Canonical returns the record buf encodes when buf is exactly what String
// would write for it. Such a print buffer is indistinguishable from an
// annotation once serialized.
func Canonical(buf string) (Record, bool) {
	r, err := Parse(buf)
	if err != nil || r.Validate() != nil || r.String() != buf {
		return Record{}, false
	}
	return r, true
}
