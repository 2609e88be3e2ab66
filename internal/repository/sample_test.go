// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"

	_ "github.com/mattn/go-sqlite3"
)

const testSchemaSQL = `
CREATE TABLE sungrow_samples (
	device_id       TEXT      NOT NULL,
	ts              TIMESTAMP NOT NULL,
	pv_power_w      REAL      NOT NULL,
	pv_daily_kwh    REAL,
	battery_power_w REAL      NOT NULL,
	battery_soc_pct REAL      NOT NULL,
	battery_temp_c  REAL,
	load_power_w    REAL      NOT NULL,
	export_power_w  REAL      NOT NULL,
	sample_count    INTEGER   NOT NULL DEFAULT 1,
	PRIMARY KEY (device_id, ts)
);`

func setup(t *testing.T) *SampleRepository {
	t.Helper()

	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchemaSQL)
	require.NoError(t, err)

	return NewSampleRepository(db, "sqlite3")
}

func testSample(deviceID string, ts time.Time, pvPowerW float64) schema.Sample {
	daily := 12.5
	temp := 25.0
	return schema.Sample{
		DeviceID:      deviceID,
		Ts:            ts,
		PvPowerW:      pvPowerW,
		PvDailyKwh:    &daily,
		BatteryPowerW: -1500,
		BatterySocPct: 75,
		BatteryTempC:  &temp,
		LoadPowerW:    2000,
		ExportPowerW:  0,
		SampleCount:   1,
	}
}

func TestInsertSamplesIdempotent(t *testing.T) {
	repo := setup(t)
	ts := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

	batch := []schema.Sample{
		testSample("dev-1", ts, 3500),
		testSample("dev-1", ts.Add(5*time.Second), 3600),
	}

	inserted, err := repo.InsertSamples(t.Context(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// Re-ingesting the same batch stores nothing.
	inserted, err = repo.InsertSamples(t.Context(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	// A batch with one known and one new key inserts exactly the new one.
	batch = append(batch, testSample("dev-1", ts.Add(10*time.Second), 3700))
	inserted, err = repo.InsertSamples(t.Context(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
}

func TestInsertSamplesEmpty(t *testing.T) {
	repo := setup(t)

	inserted, err := repo.InsertSamples(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)
}

func TestLatestSample(t *testing.T) {
	repo := setup(t)

	_, err := repo.LatestSample(t.Context(), "dev-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	ts := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	_, err = repo.InsertSamples(t.Context(), []schema.Sample{
		testSample("dev-1", ts, 1000),
		testSample("dev-1", ts.Add(time.Minute), 2000),
		testSample("dev-2", ts.Add(time.Hour), 9000),
	})
	require.NoError(t, err)

	latest, err := repo.LatestSample(t.Context(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", latest.DeviceID)
	assert.Equal(t, float64(2000), latest.PvPowerW)
	assert.True(t, latest.Ts.Equal(ts.Add(time.Minute)))
	require.NotNil(t, latest.PvDailyKwh)
	assert.Equal(t, 12.5, *latest.PvDailyKwh)
}

// Without the continuous aggregate views (fresh environment, sqlite) the
// series query computes equivalent UTC buckets from the base table.
func TestQuerySeriesFallbackDayFrame(t *testing.T) {
	repo := setup(t)
	now := time.Date(2026, 2, 14, 15, 30, 0, 0, time.UTC)
	day := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	_, err := repo.InsertSamples(t.Context(), []schema.Sample{
		testSample("dev-1", day.Add(9*time.Hour), 1000),
		testSample("dev-1", day.Add(9*time.Hour+30*time.Minute), 3000),
		testSample("dev-1", day.Add(10*time.Hour+15*time.Minute), 500),
		testSample("dev-1", day.Add(11*time.Hour+45*time.Minute), 4000),
		// outside the day window
		testSample("dev-1", day.Add(-time.Hour), 9999),
		// different device
		testSample("dev-2", day.Add(9*time.Hour), 7777),
	})
	require.NoError(t, err)

	rows, err := repo.QuerySeries(t.Context(), "dev-1", FrameDay, now)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].Bucket.Equal(day.Add(9*time.Hour)))
	assert.True(t, rows[1].Bucket.Equal(day.Add(10*time.Hour)))
	assert.True(t, rows[2].Bucket.Equal(day.Add(11*time.Hour)))

	assert.Equal(t, float64(2000), rows[0].AvgPvPowerW)
	assert.Equal(t, float64(3000), rows[0].MaxPvPowerW)
	assert.Equal(t, int64(2), rows[0].SampleCount)

	assert.Equal(t, float64(500), rows[1].AvgPvPowerW)
	assert.Equal(t, int64(1), rows[1].SampleCount)
}

func TestQuerySeriesFallbackMonthAndAll(t *testing.T) {
	repo := setup(t)
	now := time.Date(2026, 2, 14, 15, 30, 0, 0, time.UTC)

	_, err := repo.InsertSamples(t.Context(), []schema.Sample{
		testSample("dev-1", time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC), 1000),
		testSample("dev-1", time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC), 2000),
		testSample("dev-1", time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC), 4000),
	})
	require.NoError(t, err)

	// month frame: daily buckets since Feb 1st, January excluded.
	rows, err := repo.QuerySeries(t.Context(), "dev-1", FrameMonth, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Bucket.Equal(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, rows[1].Bucket.Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)))

	// all frame: monthly buckets over everything.
	rows, err = repo.QuerySeries(t.Context(), "dev-1", FrameAll, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Bucket.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, rows[1].Bucket.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, float64(1500), rows[1].AvgPvPowerW)
	assert.Equal(t, int64(2), rows[1].SampleCount)
}

func TestQuerySeriesEmptyResult(t *testing.T) {
	repo := setup(t)

	rows, err := repo.QuerySeries(t.Context(), "dev-1", FrameDay, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestValidFrame(t *testing.T) {
	for _, f := range []Frame{FrameDay, FrameMonth, FrameYear, FrameAll} {
		assert.True(t, ValidFrame(f))
	}
	assert.False(t, ValidFrame("week"))
	assert.False(t, ValidFrame(""))
}
