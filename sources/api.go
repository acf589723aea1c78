package sources

import (
	"context"
	"errors"

	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/models"
	"github.com/tarungka/lifelog/internal/session"
)

// ErrSourceUnavailable is returned when a source store cannot be opened or
// read at all. The run fails and the checkpoint stays where it was.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source turns a checkpoint into the records that are new since then
type Source interface {
	// Name is the source id; it also names the checkpoint
	Name() string

	// Fetch returns the new records together with the checkpoint to save
	// once they have all been delivered. The given checkpoint is not
	// modified.
	Fetch(ctx context.Context, cp checkpoint.Checkpoint) (*Batch, error)

	// Info about the Source
	Info() string
}

// Batch is the output of one Fetch
type Batch struct {
	Records []models.Record
	Next    checkpoint.Checkpoint
	Stats   Stats
}

// Stats counts entries that were read but did not become records
type Stats struct {
	Lines     int
	Malformed int
	Ignored   int
	session.Stats
}

// SourceConfig is the configuration of a single source. Key joins the
// source to the sink with the same key.
type SourceConfig struct {
	Name           string            `koanf:"name" json:"name"`
	ConnectionType string            `koanf:"type" json:"type"`
	Config         map[string]string `koanf:"config" json:"config"`
	Key            string            `koanf:"key" json:"key"`
}
