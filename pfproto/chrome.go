package pfproto

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ChromeEvent is one entry of the Chrome trace event format, which the
// Perfetto UI and chrome://tracing both understand.
type ChromeEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat,omitempty"`
	Phase     string         `json:"ph"`
	Timestamp float64        `json:"ts"` // microseconds
	ProcessID int32          `json:"pid"`
	ThreadID  int32          `json:"tid"`
	Scope     string         `json:"s,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// ChromeTrace is the JSON object form of a Chrome trace.
type ChromeTrace struct {
	TraceEvents     []ChromeEvent `json:"traceEvents"`
	DisplayTimeUnit string        `json:"displayTimeUnit"`
}

// Chrome trace event phases.
const (
	PhaseBegin    = "B"
	PhaseEnd      = "E"
	PhaseInstant  = "i"
	PhaseMetadata = "M"
)

// ToChrome converts decoded packets to a Chrome trace. Process and thread
// track descriptors become process_name and thread_name metadata events.
// Events on a process track are attributed to the process's main thread, and
// events on a thread track to that thread.
func ToChrome(packets []Packet) ChromeTrace {
	type ids struct{ pid, tid int32 }
	var (
		tracks = map[uint64]ids{}
		out    = ChromeTrace{DisplayTimeUnit: "ns", TraceEvents: []ChromeEvent{}}
	)

	for _, p := range packets {
		td := p.TrackDescriptor
		switch {
		case td == nil:
		case td.Process != nil:
			tracks[td.UUID] = ids{td.Process.PID, td.Process.PID}
			out.TraceEvents = append(out.TraceEvents, ChromeEvent{
				Name:      "process_name",
				Phase:     PhaseMetadata,
				ProcessID: td.Process.PID,
				ThreadID:  td.Process.PID,
				Args:      map[string]any{"name": td.Process.ProcessName},
			})
		case td.Thread != nil:
			tracks[td.UUID] = ids{td.Thread.PID, td.Thread.TID}
			out.TraceEvents = append(out.TraceEvents, ChromeEvent{
				Name:      "thread_name",
				Phase:     PhaseMetadata,
				ProcessID: td.Thread.PID,
				ThreadID:  td.Thread.TID,
				Args:      map[string]any{"name": td.Thread.ThreadName},
			})
		}
	}

	for _, p := range packets {
		ev := p.TrackEvent
		if ev == nil {
			continue
		}

		ce := ChromeEvent{
			Name:      ev.Name,
			Timestamp: float64(p.Timestamp) / 1e3,
			ProcessID: tracks[ev.TrackUUID].pid,
			ThreadID:  tracks[ev.TrackUUID].tid,
		}
		if len(ev.Categories) > 0 {
			ce.Category = ev.Categories[0]
		}
		switch ev.Type {
		case TypeSliceBegin:
			ce.Phase = PhaseBegin
		case TypeSliceEnd:
			ce.Phase = PhaseEnd
		case TypeInstant:
			ce.Phase = PhaseInstant
			ce.Scope = "t"
		default:
			continue
		}
		if len(ev.Annotations) > 0 {
			ce.Args = make(map[string]any, len(ev.Annotations))
			for _, a := range ev.Annotations {
				ce.Args[a.Name] = a.Value
			}
		}

		out.TraceEvents = append(out.TraceEvents, ce)
	}

	return out
}

// WriteChromeJSON writes the Chrome trace form of the packets to w.
func WriteChromeJSON(w io.Writer, packets []Packet) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	if err := enc.Encode(ToChrome(packets)); err != nil {
		return errors.Wrap(err, "encode chrome trace")
	}
	return nil
}

// ConvertToChromeJSON decodes a binary trace and re-encodes it as Chrome JSON.
func ConvertToChromeJSON(data []byte) ([]byte, error) {
	packets, err := Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode trace")
	}
	buf, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ToChrome(packets))
	if err != nil {
		return nil, errors.Wrap(err, "encode chrome trace")
	}
	return buf, nil
}
