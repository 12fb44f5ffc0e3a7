// Package lastlogin persists the last successful login per user, so the
// Welcome reply can report when and from where an account was previously
// used.
package lastlogin

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/wentianbu/sft/internal/logger"
)

// keyPrefix namespaces login records inside the database.
const keyPrefix = "lastlogin/"

// Record is one stored login event.
type Record struct {
	Time time.Time
	IP   string
}

// Config configures the store.
type Config struct {
	// DBPath is the BadgerDB directory. Required.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory only (used by tests).
	InMemory bool `mapstructure:"in_memory"`
}

// Store is a BadgerDB-backed last-login repository. Safe for concurrent use;
// Badger transactions provide the required isolation.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the store at cfg.DBPath.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, errors.New("lastlogin: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open lastlogin db: %w", err)
	}
	logger.Debug("Last-login store opened at %q", cfg.DBPath)
	return &Store{db: db}, nil
}

func key(username string) []byte {
	return []byte(keyPrefix + username)
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	rec := &Record{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Get returns the stored record for username, or nil if none exists.
func (s *Store) Get(username string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get last login for %q: %w", username, err)
	}
	return rec, nil
}

// RecordLogin stores a new login event for username and returns the previous
// record, or nil on first login. Read and replace happen in one transaction.
func (s *Store) RecordLogin(username, ip string, when time.Time) (*Record, error) {
	var previous *Record
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(username))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// First login for this user.
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				previous, err = decodeRecord(val)
				return err
			}); err != nil {
				return err
			}
		}

		encoded, err := encodeRecord(&Record{Time: when, IP: ip})
		if err != nil {
			return err
		}
		return txn.Set(key(username), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("record login for %q: %w", username, err)
	}
	return previous, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
