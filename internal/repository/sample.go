// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository persists samples into the time-series store and
// serves the latest-sample and bucketed-series queries.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

// ErrNotFound is returned when a query matches no stored sample.
var ErrNotFound = errors.New("no sample found")

// Frame selects the aggregate resolution and time window of a series
// query.
type Frame string

const (
	FrameDay   Frame = "day"
	FrameMonth Frame = "month"
	FrameYear  Frame = "year"
	FrameAll   Frame = "all"
)

// ValidFrame reports whether f is one of the supported query frames.
func ValidFrame(f Frame) bool {
	switch f {
	case FrameDay, FrameMonth, FrameYear, FrameAll:
		return true
	}
	return false
}

type frameConfig struct {
	view string
	// bucket width of the fallback query
	pgTrunc string
	// sqlite strftime pattern producing the left-aligned bucket
	sqlitePattern string
	// window start for the given now, nil for all-time
	windowStart func(now time.Time) *time.Time
}

func startOfDay(now time.Time) *time.Time {
	t := now.UTC()
	s := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &s
}

func startOfMonth(now time.Time) *time.Time {
	t := now.UTC()
	s := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &s
}

func startOfYear(now time.Time) *time.Time {
	t := now.UTC()
	s := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	return &s
}

var frames = map[Frame]frameConfig{
	FrameDay: {
		view: "sungrow_hourly", pgTrunc: "hour",
		sqlitePattern: "%Y-%m-%dT%H:00:00", windowStart: startOfDay,
	},
	FrameMonth: {
		view: "sungrow_daily", pgTrunc: "day",
		sqlitePattern: "%Y-%m-%dT00:00:00", windowStart: startOfMonth,
	},
	FrameYear: {
		view: "sungrow_monthly", pgTrunc: "month",
		sqlitePattern: "%Y-%m-01T00:00:00", windowStart: startOfYear,
	},
	FrameAll: {
		view: "sungrow_monthly", pgTrunc: "month",
		sqlitePattern: "%Y-%m-01T00:00:00", windowStart: nil,
	},
}

var sampleColumns = []string{
	"device_id", "ts", "pv_power_w", "pv_daily_kwh", "battery_power_w",
	"battery_soc_pct", "battery_temp_c", "load_power_w", "export_power_w",
	"sample_count",
}

// SampleRepository owns all SQL against the sample store. Requests share
// the pooled connection; every method is a single logical operation and
// holds no transaction across calls.
type SampleRepository struct {
	DB      *sqlx.DB
	driver  string
	builder sq.StatementBuilderType
}

func NewSampleRepository(db *sqlx.DB, driver string) *SampleRepository {
	builder := sq.StatementBuilder
	if driver == "postgres" {
		builder = builder.PlaceholderFormat(sq.Dollar)
	}
	return &SampleRepository{DB: db, driver: driver, builder: builder}
}

// InsertSamples bulk-inserts a batch with "do nothing on conflict"
// semantics on the identity key (device_id, ts) and returns the number
// of rows actually inserted. Re-sending a batch is therefore harmless.
func (r *SampleRepository) InsertSamples(ctx context.Context, samples []schema.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	ib := r.builder.Insert("sungrow_samples").Columns(sampleColumns...)
	for _, s := range samples {
		ib = ib.Values(s.DeviceID, s.Ts, s.PvPowerW, s.PvDailyKwh, s.BatteryPowerW,
			s.BatterySocPct, s.BatteryTempC, s.LoadPowerW, s.ExportPowerW, s.SampleCount)
	}
	ib = ib.Suffix("ON CONFLICT (device_id, ts) DO NOTHING")

	query, args, err := ib.ToSql()
	if err != nil {
		return 0, err
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk insert of %d samples failed: %w", len(samples), err)
	}
	return res.RowsAffected()
}

// LatestSample returns the greatest-ts stored sample of a device, or
// ErrNotFound.
func (r *SampleRepository) LatestSample(ctx context.Context, deviceID string) (*schema.Sample, error) {
	query, args, err := r.builder.
		Select(sampleColumns...).
		From("sungrow_samples").
		Where(sq.Eq{"device_id": deviceID}).
		OrderBy("ts DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	sample := schema.Sample{}
	if err := r.DB.GetContext(ctx, &sample, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sample.Ts = sample.Ts.UTC()
	return &sample, nil
}

// bucketScan reads the bucket as epoch seconds so the view path
// (timestamptz) and the fallback path (string bucket on sqlite) scan
// identically on both drivers.
type bucketScan struct {
	Bucket           int64   `db:"bucket"`
	AvgPvPowerW      float64 `db:"avg_pv_power_w"`
	MaxPvPowerW      float64 `db:"max_pv_power_w"`
	AvgBatteryPowerW float64 `db:"avg_battery_power_w"`
	AvgBatterySocPct float64 `db:"avg_battery_soc_pct"`
	AvgLoadPowerW    float64 `db:"avg_load_power_w"`
	AvgExportPowerW  float64 `db:"avg_export_power_w"`
	SampleCount      int64   `db:"sample_count"`
}

func toBucketRows(scans []bucketScan) []schema.BucketRow {
	rows := make([]schema.BucketRow, 0, len(scans))
	for _, s := range scans {
		rows = append(rows, schema.BucketRow{
			Bucket:           time.Unix(s.Bucket, 0).UTC(),
			AvgPvPowerW:      s.AvgPvPowerW,
			MaxPvPowerW:      s.MaxPvPowerW,
			AvgBatteryPowerW: s.AvgBatteryPowerW,
			AvgBatterySocPct: s.AvgBatterySocPct,
			AvgLoadPowerW:    s.AvgLoadPowerW,
			AvgExportPowerW:  s.AvgExportPowerW,
			SampleCount:      s.SampleCount,
		})
	}
	return rows
}

// QuerySeries returns the bucket rows of a frame in ascending bucket
// order. It reads the matching continuous aggregate view and falls back
// to live bucketing over the base table when the view does not exist
// (fresh environment, sqlite). An empty result is valid.
func (r *SampleRepository) QuerySeries(
	ctx context.Context,
	deviceID string,
	frame Frame,
	now time.Time,
) ([]schema.BucketRow, error) {
	cfg, ok := frames[frame]
	if !ok {
		return nil, fmt.Errorf("unknown series frame %q", frame)
	}

	var start *time.Time
	if cfg.windowStart != nil {
		start = cfg.windowStart(now)
	}

	// The continuous aggregate views only exist on TimescaleDB; other
	// drivers bucket live from the base table.
	if r.driver == "postgres" {
		rows, err := r.seriesFromView(ctx, deviceID, cfg, start)
		if err == nil {
			return rows, nil
		}
		if !isMissingRelation(err) {
			return nil, err
		}
		cclog.Warnf("aggregate view %q unavailable, falling back to live bucketing", cfg.view)
	}

	return r.seriesFallback(ctx, deviceID, cfg, start)
}

func (r *SampleRepository) seriesFromView(
	ctx context.Context,
	deviceID string,
	cfg frameConfig,
	start *time.Time,
) ([]schema.BucketRow, error) {
	qb := r.builder.
		Select("EXTRACT(EPOCH FROM bucket)::bigint AS bucket",
			"avg_pv_power_w", "max_pv_power_w", "avg_battery_power_w",
			"avg_battery_soc_pct", "avg_load_power_w", "avg_export_power_w",
			"sample_count").
		From(cfg.view).
		Where(sq.Eq{"device_id": deviceID}).
		OrderBy("bucket ASC")
	if start != nil {
		qb = qb.Where(sq.GtOrEq{"bucket": *start})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	scans := []bucketScan{}
	if err := r.DB.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, err
	}
	return toBucketRows(scans), nil
}

// seriesFallback computes the same aggregates on the fly from the base
// table with equivalent UTC bucket widths. Unlike the views it includes
// the current partial bucket.
func (r *SampleRepository) seriesFallback(
	ctx context.Context,
	deviceID string,
	cfg frameConfig,
	start *time.Time,
) ([]schema.BucketRow, error) {
	var bucketExpr string
	switch r.driver {
	case "postgres":
		bucketExpr = fmt.Sprintf("EXTRACT(EPOCH FROM date_trunc('%s', ts AT TIME ZONE 'UTC'))::bigint", cfg.pgTrunc)
	default:
		bucketExpr = fmt.Sprintf("CAST(strftime('%%s', strftime('%s', ts)) AS INTEGER)", cfg.sqlitePattern)
	}

	qb := r.builder.
		Select(bucketExpr+" AS bucket",
			"AVG(pv_power_w) AS avg_pv_power_w",
			"MAX(pv_power_w) AS max_pv_power_w",
			"AVG(battery_power_w) AS avg_battery_power_w",
			"AVG(battery_soc_pct) AS avg_battery_soc_pct",
			"AVG(load_power_w) AS avg_load_power_w",
			"AVG(export_power_w) AS avg_export_power_w",
			"SUM(sample_count) AS sample_count").
		From("sungrow_samples").
		Where(sq.Eq{"device_id": deviceID}).
		GroupBy("bucket").
		OrderBy("bucket ASC")
	if start != nil {
		qb = qb.Where(sq.GtOrEq{"ts": *start})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	scans := []bucketScan{}
	if err := r.DB.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, err
	}
	return toBucketRows(scans), nil
}

// RefreshAggregate refreshes one continuous aggregate over the given
// window. Used by the task manager as a backstop when the Timescale
// background workers are disabled.
func (r *SampleRepository) RefreshAggregate(ctx context.Context, view string, start time.Time, end time.Time) error {
	valid := false
	for _, cfg := range frames {
		if cfg.view == view {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown aggregate view %q", view)
	}
	if r.driver != "postgres" {
		return nil
	}

	_, err := r.DB.ExecContext(ctx,
		fmt.Sprintf("CALL refresh_continuous_aggregate('%s', $1, $2)", view), start, end)
	return err
}

// isMissingRelation matches "relation/table does not exist" errors so
// the series query can fall back to live bucketing.
func isMissingRelation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}
