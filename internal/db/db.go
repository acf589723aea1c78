package db

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// Open opens a file-based database at path. Badger's own logger is
// disabled, callers log through zerolog.
func Open(path string) (*badger.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("badger: missing path")
	}

	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("opened a file-based database at %s", path)

	return db, nil
}

// OpenInMemory opens a database that lives only as long as the process
func OpenInMemory() (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("opened a in-memory database")

	return db, nil
}
