// Package session rebuilds bounded activity sessions from a stream of
// start and end markers, one independent timeline per entity key.
package session

import (
	"sort"
	"time"
)

// Kind classifies a raw log entry
type Kind int

const (
	// Ignore marks entries that take no part in session pairing
	Ignore Kind = iota
	Start
	End
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	default:
		return "ignore"
	}
}

// RawEntry is one parsed line of a device log
type RawEntry struct {
	Time    time.Time
	Key     string
	Kind    string
	Payload string
	// Seq is the position of the line in the source, used to break ties
	// between equal timestamps
	Seq int64
}

// Event is a RawEntry classified as a start or an end marker
type Event struct {
	Time    time.Time
	Key     string
	Kind    Kind
	Payload string
	Seq     int64
}

// Pending is an unmatched start carried between runs
type Pending struct {
	Time    time.Time
	Payload string
}

// Session is a completed start/end pair for one entity key
type Session struct {
	Key          string
	Start        time.Time
	StartPayload string
	End          time.Time
	EndPayload   string
}

// Duration is End minus Start
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Stats counts the locally recovered conditions of one reconstruction
type Stats struct {
	OrphanEnds       int
	DuplicateStarts  int
	NegativeDuration int
}

// Add accumulates o into s
func (s *Stats) Add(o Stats) {
	s.OrphanEnds += o.OrphanEnds
	s.DuplicateStarts += o.DuplicateStarts
	s.NegativeDuration += o.NegativeDuration
}

// Sort orders events by (Time, Seq). The sort is stable so entries that tie
// on both keep their input order.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		return events[i].Seq < events[j].Seq
	})
}
