package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/sinks"
	"github.com/tarungka/lifelog/sources"
)

const defaultInterval = 15 * time.Minute

// Settings is the `pipeline` section of the configuration
type Settings struct {
	Parallelism int           `koanf:"parallelism"`
	Interval    time.Duration `koanf:"interval"`
}

// ParseSettings reads the pipeline section, applying defaults
func ParseSettings(ko *koanf.Koanf) (Settings, error) {
	s := Settings{Parallelism: 1, Interval: defaultInterval}
	if err := ko.Unmarshal("pipeline", &s); err != nil {
		return s, fmt.Errorf("pipeline settings: %w", err)
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 1
	}
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	return s, nil
}

// ParseConfig reads the sources and sinks sections
func ParseConfig(ko *koanf.Koanf) ([]sources.SourceConfig, []sinks.SinkConfig, error) {
	var allSourcesConfig []sources.SourceConfig
	var allSinksConfig []sinks.SinkConfig

	if err := ko.Unmarshal("sources", &allSourcesConfig); err != nil {
		return nil, nil, fmt.Errorf("sources: %w", err)
	}
	if err := ko.Unmarshal("sinks", &allSinksConfig); err != nil {
		return nil, nil, fmt.Errorf("sinks: %w", err)
	}
	return allSourcesConfig, allSinksConfig, nil
}

// Set holds the pipelines built from the configuration and the sinks they
// write to. A sink serving several sources is shared between them.
type Set struct {
	Pipelines []Pipeline
	sinks     []sinks.Sink
	logger    zerolog.Logger
}

// Build creates every source and sink and joins them by key. A source
// whose key matches no sink, two sinks with one key, or two sources with
// one name are configuration errors.
func Build(srcConfigs []sources.SourceConfig, snkConfigs []sinks.SinkConfig, logger zerolog.Logger) (*Set, error) {
	if len(srcConfigs) == 0 {
		return nil, errors.New("no sources configured")
	}

	sinkByKey := make(map[string]sinks.Sink, len(snkConfigs))
	sinkOrder := make([]string, 0, len(snkConfigs))
	for _, c := range snkConfigs {
		if _, exists := sinkByKey[c.Key]; exists {
			return nil, fmt.Errorf("sink key %q is used by more than one sink", c.Key)
		}
		snk, err := sinks.CreateSink(c, logger)
		if err != nil {
			return nil, err
		}
		sinkByKey[c.Key] = snk
		sinkOrder = append(sinkOrder, c.Key)
	}

	set := &Set{logger: logger}
	names := make(map[string]bool, len(srcConfigs))
	used := make(map[string]bool, len(sinkByKey))
	for _, c := range srcConfigs {
		if names[c.Name] {
			return nil, fmt.Errorf("source name %q is used more than once", c.Name)
		}
		names[c.Name] = true

		snk, ok := sinkByKey[c.Key]
		if !ok {
			return nil, fmt.Errorf("source %s: no sink with key %q", c.Name, c.Key)
		}
		src, err := sources.CreateSource(c, logger)
		if err != nil {
			return nil, err
		}
		p := Pipeline{Key: c.Key, Source: src, Sink: snk}
		logger.Debug().Str("key", c.Key).Msgf("mapped pipeline %s", p.Show())
		set.Pipelines = append(set.Pipelines, p)
		used[c.Key] = true
	}

	for _, key := range sinkOrder {
		if !used[key] {
			logger.Warn().Str("key", key).Str("sink", sinkByKey[key].Name()).Msg("sink has no source, skipping it")
			continue
		}
		set.sinks = append(set.sinks, sinkByKey[key])
	}
	return set, nil
}

// Select returns the pipelines of the named sources, all of them when
// names is empty
func (s *Set) Select(names []string) ([]Pipeline, error) {
	if len(names) == 0 {
		return s.Pipelines, nil
	}
	byName := make(map[string]Pipeline, len(s.Pipelines))
	for _, p := range s.Pipelines {
		byName[p.Source.Name()] = p
	}
	out := make([]Pipeline, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// Open opens every sink in use. On failure the sinks opened so far are
// closed again.
func (s *Set) Open(ctx context.Context) error {
	for i, snk := range s.sinks {
		if err := snk.Open(ctx); err != nil {
			for _, opened := range s.sinks[:i] {
				opened.Close()
			}
			return fmt.Errorf("open sink %s: %w", snk.Name(), err)
		}
	}
	return nil
}

// Close closes every sink, returning the joined errors
func (s *Set) Close() error {
	var errs []error
	for _, snk := range s.sinks {
		if err := snk.Close(); err != nil {
			s.logger.Err(err).Str("sink", snk.Name()).Msg("failed to close sink")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
