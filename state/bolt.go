package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/utils"
	bolt "go.etcd.io/bbolt"
)

var checkpointsBucket = []byte("checkpoints")

// BoltBackend keeps checkpoints in one bucket of a bolt file
type BoltBackend struct {
	db     *bolt.DB
	logger zerolog.Logger
}

func NewBoltBackend(path string, logger zerolog.Logger) (*BoltBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt backend: missing path")
	}
	path = utils.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("bolt backend: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt backend: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt backend: create bucket: %w", err)
	}
	logger.Debug().Str("path", path).Msg("opened bolt checkpoint backend")
	return &BoltBackend{db: db, logger: logger}, nil
}

func (b *BoltBackend) Load(_ context.Context, sourceID string) ([]byte, bool, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, false, err
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(checkpointsBucket).Get([]byte(sourceID))
		if v != nil {
			// v is only valid for the life of the transaction
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err == bolt.ErrDatabaseNotOpen {
		return nil, false, ErrNotOpen
	}
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *BoltBackend) Save(_ context.Context, sourceID string, data []byte) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Put([]byte(sourceID), data)
	})
	if err == bolt.ErrDatabaseNotOpen {
		return ErrNotOpen
	}
	return err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
