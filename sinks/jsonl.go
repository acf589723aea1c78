package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
)

// JSONLinesSink appends one JSON document per record to a file
type JSONLinesSink struct {
	name     string
	filePath string
	logger   zerolog.Logger

	out *appendFile
	enc *json.Encoder
}

// NewJSONLinesSink reads the config key file_path (required)
func NewJSONLinesSink(c SinkConfig, logger zerolog.Logger) (Sink, error) {
	if c.Config["file_path"] == "" {
		return nil, fmt.Errorf("jsonl sink %s: missing file_path", c.Name)
	}
	return &JSONLinesSink{name: c.Name, filePath: c.Config["file_path"], logger: logger}, nil
}

func (j *JSONLinesSink) Name() string { return j.name }

func (j *JSONLinesSink) Open(ctx context.Context) error {
	out, err := openAppend(j.filePath, j.logger)
	if err != nil {
		return err
	}
	j.out = out
	j.enc = json.NewEncoder(out)
	return nil
}

func (j *JSONLinesSink) Emit(ctx context.Context, r models.Record) error {
	if j.enc == nil {
		return fmt.Errorf("jsonl sink %s is not open", j.name)
	}
	if err := j.enc.Encode(NewDocument(r)); err != nil {
		// an Encoder keeps returning its first write error
		j.enc = json.NewEncoder(j.out)
		return err
	}
	return nil
}

func (j *JSONLinesSink) Flush(ctx context.Context) error {
	if j.out == nil {
		return nil
	}
	return j.out.Sync()
}

func (j *JSONLinesSink) Close() error {
	if j.out == nil {
		return nil
	}
	return j.out.Close()
}
