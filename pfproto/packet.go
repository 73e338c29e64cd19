// Package pfproto encodes and decodes the track event subset of the Perfetto
// trace format (perfetto/trace/trace.proto). A trace file is a Trace message,
// which is nothing more than a sequence of length-delimited TracePacket
// messages in field 1. That means individual packets can be encoded once,
// stored, and concatenated later to form a complete trace.
//
// Only the fields needed to describe a process track, its thread tracks, and
// slice and instant events on them are modeled. Unknown fields are skipped when decoding.
package pfproto

import (
	"fmt"
	"math"
	"strconv"
)

// Field numbers from the Perfetto protos.
const (
	fieldTracePacket = 1

	fieldPacketTimestamp             = 8
	fieldPacketTrustedSequenceID     = 10
	fieldPacketTrackEvent            = 11
	fieldPacketSequenceFlags         = 13
	fieldPacketPreviousPacketDropped = 42
	fieldPacketTrackDescriptor       = 60

	fieldEventDebugAnnotations = 4
	fieldEventType             = 9
	fieldEventTrackUUID        = 11
	fieldEventCategories       = 22
	fieldEventName             = 23

	fieldAnnotationBool   = 2
	fieldAnnotationUint   = 3
	fieldAnnotationInt    = 4
	fieldAnnotationDouble = 5
	fieldAnnotationString = 6
	fieldAnnotationName   = 10

	fieldDescriptorUUID    = 1
	fieldDescriptorName    = 2
	fieldDescriptorProcess = 3
	fieldDescriptorThread  = 4
	fieldDescriptorParent  = 5

	fieldProcessPID     = 1
	fieldProcessCmdline = 2
	fieldProcessName    = 6

	fieldThreadPID  = 1
	fieldThreadTID  = 2
	fieldThreadName = 5
)

// Sequence flags, see TracePacket.SequenceFlags.
const (
	SeqIncrementalStateCleared uint32 = 1
	SeqNeedsIncrementalState   uint32 = 2
)

// EventType mirrors TrackEvent.Type.
type EventType int32

const (
	TypeUnspecified EventType = 0
	TypeSliceBegin  EventType = 1
	TypeSliceEnd    EventType = 2
	TypeInstant     EventType = 3
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case TypeSliceBegin:
		return "begin"
	case TypeSliceEnd:
		return "end"
	case TypeInstant:
		return "instant"
	default:
		return "unspecified"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Packet is a TracePacket. Exactly one of TrackEvent and TrackDescriptor is
// expected to be set.
type Packet struct {
	Timestamp             uint64           `json:"timestamp,omitempty"` // nanoseconds, boot clock by convention
	SequenceID            uint32           `json:"sequence_id,omitempty"`
	SequenceFlags         uint32           `json:"sequence_flags,omitempty"`
	PreviousPacketDropped bool             `json:"previous_packet_dropped,omitempty"`
	TrackEvent            *TrackEvent      `json:"track_event,omitempty"`
	TrackDescriptor       *TrackDescriptor `json:"track_descriptor,omitempty"`
}

// TrackEvent is a slice begin, slice end, or instant event on a track.
type TrackEvent struct {
	Type        EventType    `json:"type"`
	TrackUUID   uint64       `json:"track_uuid"`
	Categories  []string     `json:"categories,omitempty"`
	Name        string       `json:"name,omitempty"` // empty for slice ends
	Annotations []Annotation `json:"annotations,omitempty"`
}

// TrackDescriptor names a track. Process tracks carry a ProcessDescriptor,
// thread tracks carry a ThreadDescriptor and the UUID of their process track
// as the parent.
type TrackDescriptor struct {
	UUID    uint64             `json:"uuid"`
	Parent  uint64             `json:"parent_uuid,omitempty"`
	Name    string             `json:"name,omitempty"`
	Process *ProcessDescriptor `json:"process,omitempty"`
	Thread  *ThreadDescriptor  `json:"thread,omitempty"`
}

// ProcessDescriptor identifies the process owning a track.
type ProcessDescriptor struct {
	PID         int32    `json:"pid"`
	ProcessName string   `json:"process_name,omitempty"`
	Cmdline     []string `json:"cmdline,omitempty"`
}

// ThreadDescriptor identifies a thread within a process.
type ThreadDescriptor struct {
	PID        int32  `json:"pid"`
	TID        int32  `json:"tid"`
	ThreadName string `json:"thread_name,omitempty"`
}

// Annotation is a DebugAnnotation. Value is one of bool, int64, uint64,
// float64, or string; other types are encoded by their fmt representation.
type Annotation struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// String implements fmt.Stringer.
func (a Annotation) String() string {
	switch v := a.Value.(type) {
	case string:
		return a.Name + "=" + strconv.Quote(v)
	case float64:
		if math.IsNaN(v) {
			return a.Name + "=NaN"
		}
		return a.Name + "=" + strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%s=%v", a.Name, v)
	}
}

// Annotations builds annotations from alternating key/value pairs. Keys that
// aren't strings are formatted with fmt. A trailing key without a value is
// dropped.
func Annotations(keyvals ...any) []Annotation {
	if len(keyvals) < 2 {
		return nil
	}
	as := make([]Annotation, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		name, ok := keyvals[i].(string)
		if !ok {
			name = fmt.Sprint(keyvals[i])
		}
		as = append(as, Annotation{Name: name, Value: normalizeValue(keyvals[i+1])})
	}
	return as
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case bool, int64, uint64, float64, string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		return fmt.Sprint(x)
	}
}
