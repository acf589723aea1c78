package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/utils"
)

const checkpointFileExt = ".checkpoint"

// FileBackend stores each checkpoint in its own file under a directory.
// Writes go through a synced temp file that is renamed into place.
type FileBackend struct {
	dir    string
	logger zerolog.Logger
}

func NewFileBackend(dir string, logger zerolog.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: missing path")
	}
	dir = utils.ExpandHome(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file backend: create %s: %w", dir, err)
	}
	logger.Debug().Str("dir", dir).Msg("opened file checkpoint backend")
	return &FileBackend{dir: dir, logger: logger}, nil
}

func (f *FileBackend) path(sourceID string) string {
	return filepath.Join(f.dir, sourceID+checkpointFileExt)
}

func (f *FileBackend) Load(_ context.Context, sourceID string) ([]byte, bool, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(f.path(sourceID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint %s: %w", sourceID, err)
	}
	return data, true, nil
}

func (f *FileBackend) Save(_ context.Context, sourceID string, data []byte) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(f.path(sourceID), data, 0600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", sourceID, err)
	}
	f.logger.Trace().Str("source", sourceID).Int("bytes", len(data)).Msg("checkpoint written")
	return nil
}

func (f *FileBackend) Close() error { return nil }
