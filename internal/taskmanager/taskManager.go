// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the background maintenance of the
// time-series store. The TimescaleDB refresh policies remain
// authoritative; these jobs re-run the same refresh windows so a
// deployment with background workers disabled still converges.
package taskmanager

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
	"github.com/wluyckx/sungrow-pipeline/internal/repository"
)

var (
	s          gocron.Scheduler
	sampleRepo *repository.SampleRepository
)

// Start creates the scheduler and registers all background services.
func Start(repo *repository.SampleRepository) {
	var err error
	sampleRepo = repo
	s, err = gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("Taskmanager Start: Could not create gocron scheduler.\nError: %s\n", err.Error())
	}

	RegisterAggregateRefreshService()

	s.Start()
}

// Shutdown stops the scheduler.
func Shutdown() {
	if s != nil {
		s.Shutdown()
	}
}
