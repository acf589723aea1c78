package sinks

import (
	"context"
	"time"

	"github.com/tarungka/lifelog/internal/models"
)

// Sink receives the records of one run. Emit is called once per record in
// order, Flush once after the last record; the checkpoint is saved only
// after Flush returned nil. A sink may see a record again after a failed
// run and should tolerate it, the record ID is stable for that purpose.
type Sink interface {
	Name() string
	Open(ctx context.Context) error
	Emit(ctx context.Context, r models.Record) error
	Flush(ctx context.Context) error
	Close() error
}

// SinkConfig is the configuration of a single sink. Key joins the sink to
// the sources with the same key.
type SinkConfig struct {
	Name           string            `koanf:"name" json:"name"`
	ConnectionType string            `koanf:"type" json:"type"`
	Config         map[string]string `koanf:"config" json:"config"`
	Key            string            `koanf:"key" json:"key"`
}

// Document is the serialized form of a record shared by the JSON lines,
// Kafka, Elasticsearch and MongoDB sinks
type Document struct {
	ID         string            `json:"id" bson:"_id"`
	Source     string            `json:"source" bson:"source"`
	Time       time.Time         `json:"time" bson:"time"`
	End        *time.Time        `json:"end,omitempty" bson:"end,omitempty"`
	Text       string            `json:"text" bson:"text"`
	Link       string            `json:"link,omitempty" bson:"link,omitempty"`
	Properties map[string]string `json:"properties,omitempty" bson:"properties,omitempty"`
}

// NewDocument converts r into its serialized form
func NewDocument(r models.Record) Document {
	d := Document{
		ID:     r.ID.String(),
		Source: r.Source,
		Time:   r.Time.UTC(),
		Text:   r.Text,
		Link:   r.Link,
	}
	if r.IsRange() {
		end := r.End.UTC()
		d.End = &end
	}
	if props := r.Properties(); len(props) > 0 {
		d.Properties = make(map[string]string, len(props))
		for _, p := range props {
			d.Properties[p.Name] = p.Value
		}
	}
	return d
}
