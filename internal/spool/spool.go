// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package spool implements the durable local FIFO that buffers samples
// between the poll loop and the uploader. It is backed by a SQLite file
// in WAL mode with synchronous=FULL so an acknowledged Enqueue survives a
// crash of the process or the host.
//
// Sequences come from an AUTOINCREMENT column and are strictly
// monotonic: a sequence removed by Ack is never handed out again, not
// even across restarts.
package spool

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS spool (
	sequence   INTEGER PRIMARY KEY AUTOINCREMENT,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

var registerDriverOnce sync.Once

// Entry is one spooled payload together with its acknowledgement handle.
type Entry struct {
	Sequence int64  `db:"sequence"`
	Payload  []byte `db:"payload"`
}

// Spool is a durable append-only queue with peek/ack semantics. All
// mutations are serialized through an internal mutex on top of the
// single SQLite connection, so concurrent Enqueue and Peek are safe.
type Spool struct {
	db *sqlx.DB
	mu sync.Mutex
}

// Open opens (or creates) the spool file at path and initializes the
// schema. The connection is limited to one to avoid lock contention;
// sqlite does not multithread anyway.
func Open(path string) (*Spool, error) {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
	})

	db, err := sqlx.Open("sqlite3WithHooks",
		fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening spool %q failed: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing spool schema failed: %w", err)
	}

	return &Spool{db: db}, nil
}

// Enqueue appends a payload. When Enqueue returns nil the payload is on
// disk and will be visible to a fresh process after crash and restart.
func (s *Spool) Enqueue(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO spool (payload) VALUES (?)`, payload)
	return err
}

// Peek returns the n lowest-sequence entries in ascending order without
// removing them. An empty slice is returned when the spool is empty or
// n <= 0.
func (s *Spool) Peek(n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}

	entries := []Entry{}
	err := s.db.Select(&entries,
		`SELECT sequence, payload FROM spool ORDER BY sequence ASC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ack removes exactly the listed sequences. Unknown sequences are
// silently ignored; an empty input is a no-op.
func (s *Spool) Ack(sequences []int64) error {
	if len(sequences) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM spool WHERE sequence IN (?)`, sequences)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(query, args...)
	return err
}

// Count returns the number of pending (unacknowledged) payloads.
func (s *Spool) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM spool`); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the backing file. The spool must not be used afterwards.
func (s *Spool) Close() error {
	return s.db.Close()
}
