package pfproto

import (
	"sort"
	"time"
)

// Summary describes the contents of a decoded trace.
type Summary struct {
	Packets     int            `json:"packets"`
	Descriptors int            `json:"descriptors"`
	Events      int            `json:"events"`
	Slices      int            `json:"slices"`
	Instants    int            `json:"instants"`
	Unbalanced  int            `json:"unbalanced"`
	Dropped     bool           `json:"dropped"`
	Processes   []string       `json:"processes,omitempty"`
	Threads     []string       `json:"threads,omitempty"`
	Categories  map[string]int `json:"categories"`
	Names       []NameCount    `json:"names"`
	Span        time.Duration  `json:"span"`
}

// NameCount is the number of slices or instants with a given name.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summarize counts the packets, events, and event names in a trace. Slice
// begins and ends are matched per track, and any begin without an end (or
// end without a begin) is counted as unbalanced.
func Summarize(packets []Packet) Summary {
	var (
		s     = Summary{Categories: map[string]int{}}
		names = map[string]int{}
		depth = map[uint64]int{}
		first uint64
		last  uint64
	)

	for _, p := range packets {
		s.Packets++
		if p.PreviousPacketDropped {
			s.Dropped = true
		}

		if td := p.TrackDescriptor; td != nil {
			s.Descriptors++
			if td.Process != nil {
				s.Processes = append(s.Processes, td.Process.ProcessName)
			}
			if td.Thread != nil {
				s.Threads = append(s.Threads, td.Thread.ThreadName)
			}
		}

		ev := p.TrackEvent
		if ev == nil {
			continue
		}

		s.Events++
		if first == 0 || p.Timestamp < first {
			first = p.Timestamp
		}
		if p.Timestamp > last {
			last = p.Timestamp
		}
		for _, c := range ev.Categories {
			s.Categories[c]++
		}

		switch ev.Type {
		case TypeSliceBegin:
			s.Slices++
			names[ev.Name]++
			depth[ev.TrackUUID]++
		case TypeSliceEnd:
			if depth[ev.TrackUUID] <= 0 {
				s.Unbalanced++
				continue
			}
			depth[ev.TrackUUID]--
		case TypeInstant:
			s.Instants++
			names[ev.Name]++
		}
	}

	for _, d := range depth {
		s.Unbalanced += d
	}

	for name, count := range names {
		s.Names = append(s.Names, NameCount{Name: name, Count: count})
	}
	sort.Slice(s.Names, func(i, j int) bool {
		if s.Names[i].Count != s.Names[j].Count {
			return s.Names[i].Count > s.Names[j].Count
		}
		return s.Names[i].Name < s.Names[j].Name
	})

	if last > first {
		s.Span = time.Duration(last - first)
	}

	return s
}
