package sinks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SinkFactory creates sinks based on configuration
type SinkFactory struct {
	mu       sync.RWMutex
	creators map[string]SinkCreator
}

// SinkCreator creates a specific type of sink
type SinkCreator func(config SinkConfig, logger zerolog.Logger) (Sink, error)

var defaultFactory = &SinkFactory{
	creators: make(map[string]SinkCreator),
}

func init() {
	RegisterSink("org", NewOrgSink)
	RegisterSink("jsonl", NewJSONLinesSink)
	RegisterSink("kafka", NewKafkaSink)
	RegisterSink("elasticsearch", NewElasticSink)
	RegisterSink("mongodb", NewMongoSink)
}

// RegisterSink registers a new sink type with the default factory
func RegisterSink(name string, creator SinkCreator) {
	defaultFactory.mu.Lock()
	defer defaultFactory.mu.Unlock()
	defaultFactory.creators[name] = creator
}

// CreateSink creates a sink instance using the default factory
func CreateSink(config SinkConfig, logger zerolog.Logger) (Sink, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("sink of type %q has no name", config.ConnectionType)
	}

	defaultFactory.mu.RLock()
	creator, exists := defaultFactory.creators[config.ConnectionType]
	defaultFactory.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type %q, want one of %s", config.ConnectionType, strings.Join(Types(), ", "))
	}
	if config.Config == nil {
		config.Config = map[string]string{}
	}
	return creator(config, logger.With().Str("sink", config.Name).Logger())
}

// Types lists the registered sink types
func Types() []string {
	defaultFactory.mu.RLock()
	defer defaultFactory.mu.RUnlock()

	out := make([]string, 0, len(defaultFactory.creators))
	for name := range defaultFactory.creators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
