package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SourceFactory creates sources based on configuration
type SourceFactory struct {
	mu       sync.RWMutex
	creators map[string]SourceCreator
}

// SourceCreator creates a specific type of source
type SourceCreator func(config SourceConfig, logger zerolog.Logger) (Source, error)

var defaultFactory = &SourceFactory{
	creators: make(map[string]SourceCreator),
}

func init() {
	RegisterSource("chromium", NewChromiumSource)
	RegisterSource("kindle", NewKindleSource)
}

// RegisterSource registers a new source type with the default factory.
// Registering a name twice replaces the earlier creator.
func RegisterSource(name string, creator SourceCreator) {
	defaultFactory.mu.Lock()
	defer defaultFactory.mu.Unlock()
	defaultFactory.creators[name] = creator
}

// CreateSource creates a source instance using the default factory.
func CreateSource(config SourceConfig, logger zerolog.Logger) (Source, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("source of type %q has no name", config.ConnectionType)
	}

	defaultFactory.mu.RLock()
	creator, exists := defaultFactory.creators[config.ConnectionType]
	defaultFactory.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type %q, want one of %s", config.ConnectionType, strings.Join(Types(), ", "))
	}
	if config.Config == nil {
		config.Config = map[string]string{}
	}
	return creator(config, logger.With().Str("source", config.Name).Logger())
}

// Types lists the registered source types
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
