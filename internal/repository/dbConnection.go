// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection is the process-wide database handle. The production
// driver is postgres (TimescaleDB); sqlite3 is supported for tests and
// small deployments without the continuous aggregate views.
type DBConnection struct {
	DB     *sqlx.DB
	Driver string
}

// Connect opens the database once. Subsequent calls are no-ops.
func Connect(driver string, dsn string) error {
	var err error

	dbConnOnce.Do(func() {
		var dbHandle *sqlx.DB

		switch driver {
		case "postgres":
			dbHandle, err = sqlx.Open("postgres", dsn)
			if err != nil {
				return
			}
			dbHandle.SetConnMaxLifetime(time.Minute * 3)
			dbHandle.SetMaxOpenConns(10)
			dbHandle.SetMaxIdleConns(10)
		case "sqlite3":
			dbHandle, err = sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", dsn))
			if err != nil {
				return
			}
			// sqlite does not multithread. Having more than one connection
			// open would just mean waiting for locks.
			dbHandle.SetMaxOpenConns(1)
		default:
			err = fmt.Errorf("unsupported database driver: %s", driver)
			return
		}

		dbConnInstance = &DBConnection{DB: dbHandle, Driver: driver}
	})

	return err
}

// GetConnection returns the handle established by Connect.
func GetConnection() (*DBConnection, error) {
	if dbConnInstance == nil {
		return nil, fmt.Errorf("database connection not initialized")
	}
	return dbConnInstance, nil
}
