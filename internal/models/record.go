package models

import (
	"strings"
	"time"

	uuid "github.com/google/uuid"
)

// recordNamespace seeds the name based UUIDs used as record IDs. Two records
// with the same source, timestamps and text always get the same ID, so sinks
// that upsert by ID absorb re-deliveries.
var recordNamespace = uuid.MustParse("6f1c7f4e-4b0e-4c43-9d0a-2b8c3f1e5a77")

// Property is a single named value attached to a record. Order is kept as
// given by the source.
type Property struct {
	Name  string
	Value string
}

// Record is the normalized, sink ready unit produced by every source
type Record struct {
	ID     uuid.UUID
	Source string
	// Time is the instant of the activity, or the beginning of a range
	Time time.Time
	// End is zero for point records
	End  time.Time
	Text string
	// Link is an optional URL the text refers to
	Link       string
	properties []Property
}

// NewRecord builds an immutable record. The property slice is copied.
func NewRecord(source string, start, end time.Time, text, link string, props []Property) Record {
	p := make([]Property, len(props))
	copy(p, props)

	return Record{
		ID:         recordID(source, start, end, text),
		Source:     source,
		Time:       start,
		End:        end,
		Text:       text,
		Link:       link,
		properties: p,
	}
}

func recordID(source string, start, end time.Time, text string) uuid.UUID {
	var b strings.Builder
	b.WriteString(source)
	b.WriteByte(0)
	b.WriteString(start.UTC().Format(time.RFC3339Nano))
	b.WriteByte(0)
	if !end.IsZero() {
		b.WriteString(end.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte(0)
	b.WriteString(text)
	return uuid.NewSHA1(recordNamespace, []byte(b.String()))
}

// IsRange reports whether the record spans an interval
func (r Record) IsRange() bool {
	return !r.End.IsZero()
}

// Properties returns a copy of the record properties
func (r Record) Properties() []Property {
	p := make([]Property, len(r.properties))
	copy(p, r.properties)
	return p
}

// Property looks a property up by name
func (r Record) Property(name string) (string, bool) {
	for _, p := range r.properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
