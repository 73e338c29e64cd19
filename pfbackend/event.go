package pfbackend

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/melatonin-dev/pftrc/pfproto"
)

// Event is what subscribers receive for every emitted track event.
type Event struct {
	Seq         uint64
	When        time.Time
	Type        pfproto.EventType
	Category    string
	Name        string
	Track       string // empty for the process track
	Annotations []pfproto.Annotation
}

// MarshalJSON implements json.Marshaler for the event.
func (ev Event) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(jsonEventFrom(&ev))
}

// UnmarshalJSON implements json.Unmarshaler for the event. Numeric annotation
// values come back as float64.
func (ev *Event) UnmarshalJSON(data []byte) error {
	var jev jsonEvent
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &jev); err != nil {
		return err
	}
	jev.writeTo(ev)
	return nil
}

//
//
//

type jsonEvent struct {
	Seq         uint64           `json:"seq"`
	When        time.Time        `json:"when"`
	Type        string           `json:"type"`
	Category    string           `json:"category"`
	Name        string           `json:"name,omitempty"`
	Track       string           `json:"track,omitempty"`
	Annotations []jsonAnnotation `json:"annotations,omitempty"`
}

type jsonAnnotation struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func jsonEventFrom(ev *Event) jsonEvent {
	jev := jsonEvent{
		Seq:      ev.Seq,
		When:     ev.When,
		Type:     ev.Type.String(),
		Category: ev.Category,
		Name:     ev.Name,
		Track:    ev.Track,
	}
	for _, a := range ev.Annotations {
		jev.Annotations = append(jev.Annotations, jsonAnnotation(a))
	}
	return jev
}

func (jev *jsonEvent) writeTo(ev *Event) {
	ev.Seq = jev.Seq
	ev.When = jev.When
	ev.Category = jev.Category
	ev.Name = jev.Name
	ev.Track = jev.Track
	switch jev.Type {
	case "begin":
		ev.Type = pfproto.TypeSliceBegin
	case "end":
		ev.Type = pfproto.TypeSliceEnd
	case "instant":
		ev.Type = pfproto.TypeInstant
	default:
		ev.Type = pfproto.TypeUnspecified
	}
	ev.Annotations = nil
	for _, ja := range jev.Annotations {
		ev.Annotations = append(ev.Annotations, pfproto.Annotation(ja))
	}
}
