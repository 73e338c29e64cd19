package pfproto

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// AppendPacket appends p to b as one element of a Trace message, i.e. tagged
// with field 1 and length-prefixed. Concatenating the output of several calls
// produces a valid trace.
func AppendPacket(b []byte, p *Packet) []byte {
	b = protowire.AppendTag(b, fieldTracePacket, protowire.BytesType)
	return protowire.AppendBytes(b, MarshalPacket(p))
}

// MarshalPacket returns the encoded TracePacket message body.
func MarshalPacket(p *Packet) []byte {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldPacketTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	if p.SequenceID != 0 {
		b = protowire.AppendTag(b, fieldPacketTrustedSequenceID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.SequenceID))
	}
	if p.TrackEvent != nil {
		b = protowire.AppendTag(b, fieldPacketTrackEvent, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTrackEvent(p.TrackEvent))
	}
	if p.SequenceFlags != 0 {
		b = protowire.AppendTag(b, fieldPacketSequenceFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.SequenceFlags))
	}
	if p.PreviousPacketDropped {
		b = protowire.AppendTag(b, fieldPacketPreviousPacketDropped, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if p.TrackDescriptor != nil {
		b = protowire.AppendTag(b, fieldPacketTrackDescriptor, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTrackDescriptor(p.TrackDescriptor))
	}
	return b
}

func marshalTrackEvent(ev *TrackEvent) []byte {
	var b []byte
	for _, a := range ev.Annotations {
		b = protowire.AppendTag(b, fieldEventDebugAnnotations, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAnnotation(a))
	}
	if ev.Type != TypeUnspecified {
		b = protowire.AppendTag(b, fieldEventType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ev.Type))
	}
	if ev.TrackUUID != 0 {
		b = protowire.AppendTag(b, fieldEventTrackUUID, protowire.VarintType)
		b = protowire.AppendVarint(b, ev.TrackUUID)
	}
	for _, c := range ev.Categories {
		b = protowire.AppendTag(b, fieldEventCategories, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	if ev.Name != "" {
		b = protowire.AppendTag(b, fieldEventName, protowire.BytesType)
		b = protowire.AppendString(b, ev.Name)
	}
	return b
}

func marshalAnnotation(a Annotation) []byte {
	var b []byte
	switch v := normalizeValue(a.Value).(type) {
	case bool:
		b = protowire.AppendTag(b, fieldAnnotationBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	case uint64:
		b = protowire.AppendTag(b, fieldAnnotationUint, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	case int64:
		b = protowire.AppendTag(b, fieldAnnotationInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	case float64:
		b = protowire.AppendTag(b, fieldAnnotationDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	case string:
		b = protowire.AppendTag(b, fieldAnnotationString, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	b = protowire.AppendTag(b, fieldAnnotationName, protowire.BytesType)
	b = protowire.AppendString(b, a.Name)
	return b
}

func marshalTrackDescriptor(td *TrackDescriptor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDescriptorUUID, protowire.VarintType)
	b = protowire.AppendVarint(b, td.UUID)
	if td.Name != "" {
		b = protowire.AppendTag(b, fieldDescriptorName, protowire.BytesType)
		b = protowire.AppendString(b, td.Name)
	}
	if pd := td.Process; pd != nil {
		var pb []byte
		pb = protowire.AppendTag(pb, fieldProcessPID, protowire.VarintType)
		pb = protowire.AppendVarint(pb, uint64(pd.PID))
		for _, arg := range pd.Cmdline {
			pb = protowire.AppendTag(pb, fieldProcessCmdline, protowire.BytesType)
			pb = protowire.AppendString(pb, arg)
		}
		if pd.ProcessName != "" {
			pb = protowire.AppendTag(pb, fieldProcessName, protowire.BytesType)
			pb = protowire.AppendString(pb, pd.ProcessName)
		}
		b = protowire.AppendTag(b, fieldDescriptorProcess, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if th := td.Thread; th != nil {
		var tb []byte
		tb = protowire.AppendTag(tb, fieldThreadPID, protowire.VarintType)
		tb = protowire.AppendVarint(tb, uint64(th.PID))
		tb = protowire.AppendTag(tb, fieldThreadTID, protowire.VarintType)
		tb = protowire.AppendVarint(tb, uint64(th.TID))
		if th.ThreadName != "" {
			tb = protowire.AppendTag(tb, fieldThreadName, protowire.BytesType)
			tb = protowire.AppendString(tb, th.ThreadName)
		}
		b = protowire.AppendTag(b, fieldDescriptorThread, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	if td.Parent != 0 {
		b = protowire.AppendTag(b, fieldDescriptorParent, protowire.VarintType)
		b = protowire.AppendVarint(b, td.Parent)
	}
	return b
}

//
//
//

// Decode parses a complete Trace message into its packets.
func Decode(data []byte) ([]Packet, error) {
	var packets []Packet
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
		if num != fieldTracePacket || typ != protowire.BytesType {
			return nil
		}
		p, err := UnmarshalPacket(b)
		if err != nil {
			return errors.Wrapf(err, "packet %d", len(packets))
		}
		packets = append(packets, p)
		return nil
	})
	return packets, err
}

// UnmarshalPacket parses an encoded TracePacket message body.
func UnmarshalPacket(data []byte) (Packet, error) {
	var p Packet
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
		switch num {
		case fieldPacketTimestamp:
			p.Timestamp = v
		case fieldPacketTrustedSequenceID:
			p.SequenceID = uint32(v)
		case fieldPacketSequenceFlags:
			p.SequenceFlags = uint32(v)
		case fieldPacketPreviousPacketDropped:
			p.PreviousPacketDropped = protowire.DecodeBool(v)
		case fieldPacketTrackEvent:
			ev, err := unmarshalTrackEvent(b)
			if err != nil {
				return errors.Wrap(err, "track event")
			}
			p.TrackEvent = ev
		case fieldPacketTrackDescriptor:
			td, err := unmarshalTrackDescriptor(b)
			if err != nil {
				return errors.Wrap(err, "track descriptor")
			}
			p.TrackDescriptor = td
		}
		return nil
	})
	return p, err
}

func unmarshalTrackEvent(data []byte) (*TrackEvent, error) {
	ev := &TrackEvent{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
		switch num {
		case fieldEventType:
			ev.Type = EventType(v)
		case fieldEventTrackUUID:
			ev.TrackUUID = v
		case fieldEventCategories:
			ev.Categories = append(ev.Categories, string(b))
		case fieldEventName:
			ev.Name = string(b)
		case fieldEventDebugAnnotations:
			a, err := unmarshalAnnotation(b)
			if err != nil {
				return errors.Wrap(err, "debug annotation")
			}
			ev.Annotations = append(ev.Annotations, a)
		}
		return nil
	})
	return ev, err
}

func unmarshalAnnotation(data []byte) (Annotation, error) {
	var a Annotation
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
		switch num {
		case fieldAnnotationName:
			a.Name = string(b)
		case fieldAnnotationBool:
			a.Value = protowire.DecodeBool(v)
		case fieldAnnotationUint:
			a.Value = v
		case fieldAnnotationInt:
			a.Value = int64(v)
		case fieldAnnotationDouble:
			a.Value = math.Float64frombits(v)
		case fieldAnnotationString:
			a.Value = string(b)
		}
		return nil
	})
	return a, err
}

func unmarshalTrackDescriptor(data []byte) (*TrackDescriptor, error) {
	td := &TrackDescriptor{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
		switch num {
		case fieldDescriptorUUID:
			td.UUID = v
		case fieldDescriptorName:
			td.Name = string(b)
		case fieldDescriptorProcess:
			pd := &ProcessDescriptor{}
			if err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
				switch num {
				case fieldProcessPID:
					pd.PID = int32(v)
				case fieldProcessCmdline:
					pd.Cmdline = append(pd.Cmdline, string(b))
				case fieldProcessName:
					pd.ProcessName = string(b)
				}
				return nil
			}); err != nil {
				return errors.Wrap(err, "process descriptor")
			}
			td.Process = pd
		case fieldDescriptorThread:
			th := &ThreadDescriptor{}
			if err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error {
				switch num {
				case fieldThreadPID:
					th.PID = int32(v)
				case fieldThreadTID:
					th.TID = int32(v)
				case fieldThreadName:
					th.ThreadName = string(b)
				}
				return nil
			}); err != nil {
				return errors.Wrap(err, "thread descriptor")
			}
			td.Thread = th
		case fieldDescriptorParent:
			td.Parent = v
		}
		return nil
	})
	return td, err
}

// walkFields calls fn for each field in the message. Varint and fixed-width
// values are passed as v, length-delimited values as b. Groups are rejected.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte, v uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "tag")
		}
		data = data[n:]

		var (
			b []byte
			v uint64
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(data)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(data)
			v = uint64(v32)
		case protowire.BytesType:
			b, n = protowire.ConsumeBytes(data)
		default:
			return errors.Errorf("field %d: unsupported wire type %d", num, typ)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		data = data[n:]

		if err := fn(num, typ, b, v); err != nil {
			return err
		}
	}
	return nil
}
