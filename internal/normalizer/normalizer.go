// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package normalizer converts raw Modbus words into validated engineering
// samples. Normalize is a pure function: no I/O, no clock, no mutable
// state. The device id and timestamp are injected by the caller.
package normalizer

import (
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/wluyckx/sungrow-pipeline/internal/registers"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

// fieldMapping binds a Sample field to its source register. Optional
// fields become nil when the register is absent instead of failing the
// sample.
type fieldMapping struct {
	field    string
	register string
	optional bool
}

var fieldMap = []fieldMapping{
	{field: "pv_power_w", register: "pv_power"},
	{field: "pv_daily_kwh", register: "daily_pv_generation", optional: true},
	{field: "battery_power_w", register: "battery_power"},
	{field: "battery_soc_pct", register: "battery_soc"},
	{field: "battery_temp_c", register: "battery_temperature", optional: true},
	{field: "load_power_w", register: "load_power"},
	{field: "export_power_w", register: "export_power"},
}

func decodeS16(w uint16) int64 {
	return int64(int16(w))
}

func decodeU32(hi, lo uint16) int64 {
	return int64(uint32(hi))<<16 | int64(lo)
}

func decodeS32(hi, lo uint16) int64 {
	return int64(int32(uint32(hi)<<16 | uint32(lo)))
}

// extract decodes, scales and range-checks a single register value.
//
// For S32 registers that fail the range check, a firmware variant is
// tolerated where only the low word carries a signed value and the high
// word is stuck at 0x0000 or 0xFFFF; the low word is then reinterpreted
// as S16 and accepted when that passes the same range check.
func extract(def registers.RegisterDef, words []uint16) (float64, error) {
	if len(words) != def.WordCount {
		return 0, fmt.Errorf("register %q: want %d words, got %d",
			def.Name, def.WordCount, len(words))
	}

	var raw int64
	switch def.Type {
	case registers.U16:
		raw = int64(words[0])
	case registers.S16:
		raw = decodeS16(words[0])
	case registers.U32:
		raw = decodeU32(words[0], words[1])
	case registers.S32:
		raw = decodeS32(words[0], words[1])
	default:
		return 0, fmt.Errorf("register %q: type %s not normalizable", def.Name, def.Type)
	}

	scaled := float64(raw) * def.Scale
	if !def.HasRange || (scaled >= def.Min && scaled <= def.Max) {
		return scaled, nil
	}

	if def.Type == registers.S32 && (words[0] == 0x0000 || words[0] == 0xFFFF) {
		retry := float64(decodeS16(words[1])) * def.Scale
		if retry >= def.Min && retry <= def.Max {
			cclog.Warnf("register %q: S32 raw=%d out of range, accepting low word as S16 (%g %s)",
				def.Name, raw, retry, def.Unit)
			return retry, nil
		}
	}

	return 0, fmt.Errorf("register %q: scaled value %g (raw=%d) outside valid range (%g, %g)",
		def.Name, scaled, raw, def.Min, def.Max)
}

// Normalize converts a raw register map into a validated Sample.
//
// Every mapped register must be present with the right word count and
// decode into its valid range, except: optional registers (daily PV
// energy, battery temperature) become null when absent, and a missing
// export register is substituted with the negated grid power. Any other
// failure rejects the whole sample.
func Normalize(raw registers.RawMap, deviceID string, ts time.Time) (*schema.Sample, error) {
	sample := &schema.Sample{
		DeviceID:    deviceID,
		Ts:          ts,
		SampleCount: 1,
	}

	for _, m := range fieldMap {
		def, ok := registers.Lookup(m.register)
		if !ok {
			return nil, fmt.Errorf("register %q not in catalog", m.register)
		}

		words, present := raw[m.register]
		if !present {
			if m.optional {
				continue
			}
			if m.field == "export_power_w" {
				v, err := exportFromGrid(raw)
				if err != nil {
					return nil, err
				}
				sample.ExportPowerW = v
				continue
			}
			return nil, fmt.Errorf("register %q: missing from raw map", m.register)
		}

		v, err := extract(def, words)
		if err != nil {
			return nil, err
		}

		switch m.field {
		case "pv_power_w":
			sample.PvPowerW = v
		case "pv_daily_kwh":
			sample.PvDailyKwh = &v
		case "battery_power_w":
			sample.BatteryPowerW = v
		case "battery_soc_pct":
			sample.BatterySocPct = v
		case "battery_temp_c":
			sample.BatteryTempC = &v
		case "load_power_w":
			sample.LoadPowerW = v
		case "export_power_w":
			sample.ExportPowerW = v
		}
	}

	return sample, nil
}

// exportFromGrid derives export power when the export register group is
// unsupported by the firmware: export = -grid (grid positive means
// importing).
func exportFromGrid(raw registers.RawMap) (float64, error) {
	def, ok := registers.Lookup("grid_power")
	if !ok {
		return 0, fmt.Errorf("register %q not in catalog", "grid_power")
	}
	words, present := raw["grid_power"]
	if !present {
		return 0, fmt.Errorf("register %q missing and no grid power to derive it from", "export_power")
	}
	v, err := extract(def, words)
	if err != nil {
		return 0, err
	}
	return -v, nil
}
