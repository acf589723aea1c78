package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
)

// ElasticSink indexes records with the record ID as document ID, so a
// re-delivered record overwrites its earlier copy
type ElasticSink struct {
	name   string
	cfg    elasticsearch.Config
	index  string
	logger zerolog.Logger

	client *elasticsearch.Client
}

// NewElasticSink reads the config keys url (comma separated) or cloud_id,
// api_key and index_name (required)
func NewElasticSink(c SinkConfig, logger zerolog.Logger) (Sink, error) {
	if c.Config["index_name"] == "" {
		return nil, fmt.Errorf("elasticsearch sink %s: missing index_name", c.Name)
	}
	if c.Config["url"] == "" && c.Config["cloud_id"] == "" {
		return nil, fmt.Errorf("elasticsearch sink %s: one of url or cloud_id is required", c.Name)
	}

	cfg := elasticsearch.Config{
		CloudID: c.Config["cloud_id"],
		APIKey:  c.Config["api_key"],
	}
	if c.Config["url"] != "" {
		cfg.Addresses = strings.Split(c.Config["url"], ",")
	}
	return &ElasticSink{name: c.Name, cfg: cfg, index: c.Config["index_name"], logger: logger}, nil
}

func (e *ElasticSink) Name() string { return e.name }

func (e *ElasticSink) Open(ctx context.Context) error {
	e.logger.Trace().Msg("Connecting to elasticsearch...")
	client, err := elasticsearch.NewClient(e.cfg)
	if err != nil {
		return err
	}
	e.client = client
	return nil
}

func (e *ElasticSink) Emit(ctx context.Context, r models.Record) error {
	if e.client == nil {
		return fmt.Errorf("elasticsearch sink %s is not open", e.name)
	}
	body, err := json.Marshal(NewDocument(r))
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: r.ID.String(),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("index document %s: %w", r.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index document %s: %s: %s", r.ID, res.Status(), bytes.TrimSpace(msg))
	}
	e.logger.Trace().Str("id", r.ID.String()).Str("status", res.Status()).Msg("document indexed")
	return nil
}

// Flush refreshes the index so the records of the run are searchable
// before the checkpoint moves on
func (e *ElasticSink) Flush(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	res, err := esapi.IndicesRefreshRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index %s: %s", e.index, res.Status())
	}
	return nil
}

func (e *ElasticSink) Close() error {
	e.logger.Info().Msg("Closing Elasticsearch connection")
	return nil
}
