// Package store implements the content-addressed tarball cache: a
// durable checksum -> bytes mapping, backed by bbolt. There is no delete
// operation — the store grows monotonically.
package store

import (
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/cratesmirror/mirror/internal/crate"
)

var bucketContents = []byte("contents")

// Store is a durable checksum -> tarball-bytes mapping. Get and Put are
// both safe to call from many goroutines; bbolt serializes writers
// internally and lets readers run free of them.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and
// ensures the contents bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketContents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the bytes for checksum, or ok=false if absent. Any
// underlying store error is logged and surfaced as absent on read.
func (s *Store) Get(checksum crate.Checksum) (data []byte, ok bool) {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContents)
		v := b.Get(checksum[:])
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		ok = true
		return nil
	})
	if err != nil {
		slog.Error("store: get failed", "checksum", checksum.String(), "err", err)
		return nil, false
	}
	return data, ok
}

// Put inserts bytes at checksum. replaced reports whether a value was
// already present at that key; by construction (checksum is the SHA-256
// of bytes) a replace can only ever rewrite an identical value, so
// callers treat it as a warning, never an error. See debugAssertReplace
// for the additional debug-build check.
func (s *Store) Put(checksum crate.Checksum, data []byte) (replaced bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContents)
		existing := b.Get(checksum[:])
		if existing != nil {
			replaced = true
			debugAssertReplace(checksum, existing, data)
		}
		return b.Put(checksum[:], data)
	})
	if err != nil {
		return replaced, fmt.Errorf("store: put %s: %w", checksum, err)
	}
	if replaced {
		slog.Warn("store: replaced existing value for checksum", "checksum", checksum.String())
	}
	return replaced, nil
}
