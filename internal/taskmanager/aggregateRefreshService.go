// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// refreshWindow mirrors the refresh policies created by the migrations:
// the window ends one bucket before now so readers only ever see stable
// aggregates.
type refreshWindow struct {
	view        string
	startOffset time.Duration
	endOffset   time.Duration
}

func refreshOne(w refreshWindow) {
	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := sampleRepo.RefreshAggregate(ctx, w.view, now.Add(-w.startOffset), now.Add(-w.endOffset)); err != nil {
		cclog.Errorf("refreshing %s failed: %v", w.view, err)
		return
	}
	cclog.Infof("Refreshed %s in %s", w.view, time.Since(start))
}

// RegisterAggregateRefreshService schedules the backstop refresh of the
// hourly, daily and monthly aggregates.
func RegisterAggregateRefreshService() {
	hourly := refreshWindow{view: "sungrow_hourly", startOffset: 3 * time.Hour, endOffset: time.Hour}
	daily := refreshWindow{view: "sungrow_daily", startOffset: 3 * 24 * time.Hour, endOffset: 24 * time.Hour}
	monthly := refreshWindow{view: "sungrow_monthly", startOffset: 3 * 31 * 24 * time.Hour, endOffset: 31 * 24 * time.Hour}

	cclog.Info("Register aggregate refresh service (hourly + daily)")

	s.NewJob(gocron.DurationJob(time.Hour),
		gocron.NewTask(func() { refreshOne(hourly) }))

	s.NewJob(gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			refreshOne(daily)
			refreshOne(monthly)
		}))
}
