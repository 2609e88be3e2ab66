// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"embed"
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed migrations/*
var migrationFiles embed.FS

// MigrateDB brings the postgres schema up to the current version. It is
// idempotent and runs at startup; a fresh TimescaleDB gets the
// hypertable and all three continuous aggregates with their refresh
// policies.
func MigrateDB(dsn string) error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dsn)
	if err != nil {
		return fmt.Errorf("initializing migrations failed: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			cclog.Debug("database schema is up to date")
			return nil
		}
		return fmt.Errorf("applying migrations failed: %w", err)
	}

	cclog.Info("database migrations applied")
	return nil
}
