// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the wire and storage models shared between the
// edge agent and the ingest service.
package schema

import "time"

// Sample is one normalized engineering snapshot of inverter state at an
// instant. Identity is the pair (DeviceID, Ts); the store keeps at most
// one row per pair. All power values are in watts after register scaling.
// Optional fields are pointers so that "absent" stays distinguishable
// from "present but zero" across the wire (JSON null).
type Sample struct {
	DeviceID      string    `json:"device_id" db:"device_id"`
	Ts            time.Time `json:"ts" db:"ts"`
	PvPowerW      float64   `json:"pv_power_w" db:"pv_power_w"`
	PvDailyKwh    *float64  `json:"pv_daily_kwh" db:"pv_daily_kwh"`
	BatteryPowerW float64   `json:"battery_power_w" db:"battery_power_w"`
	BatterySocPct float64   `json:"battery_soc_pct" db:"battery_soc_pct"`
	BatteryTempC  *float64  `json:"battery_temp_c" db:"battery_temp_c"`
	LoadPowerW    float64   `json:"load_power_w" db:"load_power_w"`
	ExportPowerW  float64   `json:"export_power_w" db:"export_power_w"`
	SampleCount   int       `json:"sample_count" db:"sample_count"`
}

// BucketRow is one left-aligned time bucket of aggregated samples as
// served by the series endpoint. sample_count aggregates by SUM so the
// row weight survives future compaction; max_pv_power_w by MAX; all
// averages are unweighted.
type BucketRow struct {
	Bucket           time.Time `json:"bucket" db:"bucket"`
	AvgPvPowerW      float64   `json:"avg_pv_power_w" db:"avg_pv_power_w"`
	MaxPvPowerW      float64   `json:"max_pv_power_w" db:"max_pv_power_w"`
	AvgBatteryPowerW float64   `json:"avg_battery_power_w" db:"avg_battery_power_w"`
	AvgBatterySocPct float64   `json:"avg_battery_soc_pct" db:"avg_battery_soc_pct"`
	AvgLoadPowerW    float64   `json:"avg_load_power_w" db:"avg_load_power_w"`
	AvgExportPowerW  float64   `json:"avg_export_power_w" db:"avg_export_power_w"`
	SampleCount      int64     `json:"sample_count" db:"sample_count"`
}
