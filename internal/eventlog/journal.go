// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const journalPrefix = "evt:"

// Journal persists events in a badger database with a retention TTL.
type Journal struct {
	db  *badger.DB
	ttl time.Duration
	seq atomic.Uint32
}

// OpenJournal opens the journal at dir. A ttl of zero keeps events forever.
func OpenJournal(dir string, ttl time.Duration) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	return &Journal{db: db, ttl: ttl}, nil
}

// OpenInMemoryJournal opens a journal without disk persistence.
func OpenInMemoryJournal() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// key orders entries by time, then by a sequence that breaks same-nanosecond ties.
func (j *Journal) key(t time.Time) []byte {
	k := make([]byte, len(journalPrefix)+12)
	copy(k, journalPrefix)
	binary.BigEndian.PutUint64(k[len(journalPrefix):], uint64(t.UnixNano()))
	binary.BigEndian.PutUint32(k[len(journalPrefix)+8:], j.seq.Add(1))
	return k
}

// Write implements Sink.
func (j *Journal) Write(_ context.Context, e Event) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(j.key(e.Time), buf)
	if j.ttl > 0 {
		entry = entry.WithTTL(j.ttl)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// Recent returns up to n events, newest first.
func (j *Journal) Recent(n int) ([]Event, error) {
	var out []Event
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks from the largest key with the prefix
		seek := append([]byte(journalPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(journalPrefix)); it.Next() {
			if n > 0 && len(out) >= n {
				break
			}
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
