package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

// producer is the part of *kgo.Client the sink uses
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaSink produces one message per record, keyed by record ID so a
// compacted topic keeps a single copy of re-delivered records. Produce is
// asynchronous; Flush waits for the outstanding messages and reports the
// first failure among those emitted since the previous Flush.
type KafkaSink struct {
	name             string
	bootstrapServers []string
	topic            string
	logger           zerolog.Logger

	client producer

	mu sync.Mutex
	// batch counts Flush calls; a promise only reports into the batch it
	// was produced in
	batch uint64
	err   error
}

// NewKafkaSink reads the config keys bootstrap_servers (comma separated)
// and topic, both required
func NewKafkaSink(c SinkConfig, logger zerolog.Logger) (Sink, error) {
	if c.Config["bootstrap_servers"] == "" || c.Config["topic"] == "" {
		return nil, fmt.Errorf("kafka sink %s: missing bootstrap_servers or topic", c.Name)
	}
	logger.Debug().Str("bootstrap_servers", c.Config["bootstrap_servers"]).Str("topic", c.Config["topic"]).Send()

	var servers []string
	for _, s := range strings.Split(c.Config["bootstrap_servers"], ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return &KafkaSink{name: c.Name, bootstrapServers: servers, topic: c.Config["topic"], logger: logger}, nil
}

func (k *KafkaSink) Name() string { return k.name }

func (k *KafkaSink) Open(ctx context.Context) error {
	k.logger.Trace().Msg("Connecting to kafka cluster as a sink...")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.bootstrapServers...),
		kgo.DefaultProduceTopic(k.topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		k.logger.Err(err).Msg("Error when creating a kafka producer!")
		return err
	}
	k.client = client
	return nil
}

func (k *KafkaSink) Emit(ctx context.Context, r models.Record) error {
	if k.client == nil {
		return fmt.Errorf("kafka sink %s is not open", k.name)
	}

	value, err := json.Marshal(NewDocument(r))
	if err != nil {
		return err
	}
	k.mu.Lock()
	batch := k.batch
	k.mu.Unlock()

	rec := &kgo.Record{Key: []byte(r.ID.String()), Value: value}
	k.client.Produce(ctx, rec, func(rec *kgo.Record, err error) {
		if err == nil {
			k.logger.Trace().Str("key", string(rec.Key)).Msg("Successfully produced message")
			return
		}
		k.logger.Err(err).Str("key", string(rec.Key)).Msg("record had a produce error")
		k.mu.Lock()
		defer k.mu.Unlock()
		if batch != k.batch {
			// the batch was already flushed and reported
			return
		}
		if k.err == nil {
			k.err = err
		}
	})
	return nil
}

// Flush ends the current batch whatever the outcome, so a failed run does
// not fail the next one.
func (k *KafkaSink) Flush(ctx context.Context) error {
	if k.client == nil {
		return nil
	}
	flushErr := k.client.Flush(ctx)

	k.mu.Lock()
	produceErr := k.err
	k.err = nil
	k.batch++
	k.mu.Unlock()

	if flushErr != nil {
		return flushErr
	}
	return produceErr
}

func (k *KafkaSink) Close() error {
	if k.client == nil {
		return nil
	}
	k.logger.Info().Msg("Disconnecting kafka sink")
	k.client.Close()
	return nil
}
