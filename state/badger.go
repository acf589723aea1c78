package state

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/db"
	"github.com/tarungka/lifelog/internal/utils"
)

const badgerKeyPrefix = "checkpoint/"

// BadgerBackend keeps checkpoints in a badger database. Every Save is a
// single transaction.
type BadgerBackend struct {
	db     *badger.DB
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBadgerBackend opens a badger database under path; an empty path opens
// an in-memory database.
func NewBadgerBackend(path string, logger zerolog.Logger) (*BadgerBackend, error) {
	var (
		bdb *badger.DB
		err error
	)
	if path == "" {
		bdb, err = db.OpenInMemory()
	} else {
		bdb, err = db.Open(utils.ExpandHome(path))
	}
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: bdb, logger: logger}, nil
}

func badgerKey(sourceID string) []byte {
	return []byte(badgerKeyPrefix + sourceID)
}

func (b *BadgerBackend) Load(_ context.Context, sourceID string) ([]byte, bool, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, ErrNotOpen
	}

	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(sourceID))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		b.logger.Err(err).Str("source", sourceID).Msg("err reading checkpoint")
		return nil, false, err
	}
	return val, true, nil
}

func (b *BadgerBackend) Save(_ context.Context, sourceID string, data []byte) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrNotOpen
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(sourceID), data)
	})
	if err != nil {
		b.logger.Err(err).Str("source", sourceID).Msg("err writing checkpoint")
		return err
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
