package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotOpen is returned when a backend is used after Close
	ErrNotOpen = errors.New("state backend not open")

	// ErrInvalidSourceID is returned for ids that cannot be used as a key
	ErrInvalidSourceID = errors.New("invalid source id")
)

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Backend persists one opaque checkpoint blob per source.
//
// Save replaces the stored blob as a unit: after a crash during Save the
// previously saved blob is still loadable. Backends are not designed for
// concurrent writers to the same source id.
type Backend interface {
	// Load returns the stored blob, or false when nothing was saved yet.
	Load(ctx context.Context, sourceID string) ([]byte, bool, error)
	// Save atomically replaces the blob stored for sourceID.
	Save(ctx context.Context, sourceID string, data []byte) error
	Close() error
}

// Config selects and configures a Backend
type Config struct {
	Backend   string        `koanf:"backend" json:"backend"`
	Path      string        `koanf:"path" json:"path"`
	Endpoints []string      `koanf:"endpoints" json:"endpoints"`
	Prefix    string        `koanf:"prefix" json:"prefix"`
	Timeout   time.Duration `koanf:"timeout" json:"timeout"`
}

// DefaultPath is where a backend keeps its data when the config names only
// the state directory dir
func DefaultPath(backend, dir string) string {
	switch backend {
	case "bolt":
		return filepath.Join(dir, "checkpoints.db")
	case "badger":
		return filepath.Join(dir, "badger")
	default:
		return dir
	}
}

// New opens the backend named in the config
func New(c Config, logger zerolog.Logger) (Backend, error) {
	switch c.Backend {
	case "", "file":
		return NewFileBackend(c.Path, logger)
	case "badger":
		return NewBadgerBackend(c.Path, logger)
	case "bolt":
		return NewBoltBackend(c.Path, logger)
	case "etcd":
		return NewEtcdBackend(c, logger)
	case "memory":
		return NewInMemoryStateBackend(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", c.Backend)
	}
}

func validateSourceID(id string) error {
	if !sourceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSourceID, id)
	}
	return nil
}
