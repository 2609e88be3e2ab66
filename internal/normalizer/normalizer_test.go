// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wluyckx/sungrow-pipeline/internal/registers"
)

var testTs = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

// validRaw returns a raw map that normalizes cleanly.
func validRaw() registers.RawMap {
	return registers.RawMap{
		"pv_power":            {3500},
		"daily_pv_generation": {125},  // 12.5 kWh
		"battery_power":       {1500}, // scale -1 -> -1500 W
		"battery_soc":         {750},  // 75 %
		"battery_temperature": {250},  // 25 C
		"load_power":          {2000},
		"export_power":        {0, 0},
		"grid_power":          {0},
	}
}

func TestNormalizeHappyPath(t *testing.T) {
	sample, err := Normalize(validRaw(), "dev-1", testTs)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if sample.DeviceID != "dev-1" || !sample.Ts.Equal(testTs) {
		t.Errorf("identity mismatch: %s %s", sample.DeviceID, sample.Ts)
	}
	if sample.PvPowerW != 3500 {
		t.Errorf("pv_power_w = %g, want 3500", sample.PvPowerW)
	}
	if sample.PvDailyKwh == nil || *sample.PvDailyKwh != 12.5 {
		t.Errorf("pv_daily_kwh = %v, want 12.5", sample.PvDailyKwh)
	}
	if sample.BatteryPowerW != -1500 {
		t.Errorf("battery_power_w = %g, want -1500 (negated raw)", sample.BatteryPowerW)
	}
	if sample.BatterySocPct != 75 {
		t.Errorf("battery_soc_pct = %g, want 75", sample.BatterySocPct)
	}
	if sample.BatteryTempC == nil || *sample.BatteryTempC != 25 {
		t.Errorf("battery_temp_c = %v, want 25", sample.BatteryTempC)
	}
	if sample.LoadPowerW != 2000 || sample.ExportPowerW != 0 {
		t.Errorf("load/export = %g/%g", sample.LoadPowerW, sample.ExportPowerW)
	}
	if sample.SampleCount != 1 {
		t.Errorf("sample_count = %d, want 1", sample.SampleCount)
	}
}

func TestNormalizeOutOfRange(t *testing.T) {
	raw := validRaw()
	raw["battery_soc"] = []uint16{1100} // 110 % > 100
	if _, err := Normalize(raw, "dev-1", testTs); err == nil {
		t.Fatal("soc of 110% should reject the sample")
	}
}

func TestNormalizeMissingRequired(t *testing.T) {
	raw := validRaw()
	delete(raw, "pv_power")
	if _, err := Normalize(raw, "dev-1", testTs); err == nil {
		t.Fatal("missing pv_power should reject the sample")
	}
}

func TestNormalizeWrongWordCount(t *testing.T) {
	raw := validRaw()
	raw["export_power"] = []uint16{0} // S32 needs two words
	if _, err := Normalize(raw, "dev-1", testTs); err == nil {
		t.Fatal("short word slice should reject the sample")
	}
}

func TestNormalizeOptionalAbsent(t *testing.T) {
	raw := validRaw()
	delete(raw, "daily_pv_generation")
	delete(raw, "battery_temperature")

	sample, err := Normalize(raw, "dev-1", testTs)
	if err != nil {
		t.Fatalf("optional registers must not be required: %v", err)
	}
	if sample.PvDailyKwh != nil {
		t.Error("pv_daily_kwh should be null when the register is absent")
	}
	if sample.BatteryTempC != nil {
		t.Error("battery_temp_c should be null when the register is absent")
	}
}

func TestNormalizeExportFallback(t *testing.T) {
	raw := validRaw()
	delete(raw, "export_power")
	raw["grid_power"] = []uint16{100} // importing 100 W

	sample, err := Normalize(raw, "dev-1", testTs)
	if err != nil {
		t.Fatalf("grid fallback should produce a sample: %v", err)
	}
	if sample.ExportPowerW != -100 {
		t.Errorf("export_power_w = %g, want -100 (negated grid)", sample.ExportPowerW)
	}
}

func TestNormalizeExportFallbackWithoutGrid(t *testing.T) {
	raw := validRaw()
	delete(raw, "export_power")
	delete(raw, "grid_power")
	if _, err := Normalize(raw, "dev-1", testTs); err == nil {
		t.Fatal("missing export and grid power should reject the whole sample")
	}
}

// Some firmwares populate only the low word of a documented S32 register
// with a signed value. 0x0000FD30 decodes to 64816 W which is out of
// range; the low word reinterpreted as S16 is -720 W and valid.
func TestNormalizeS32LowWordFallback(t *testing.T) {
	raw := validRaw()
	raw["export_power"] = []uint16{0x0000, 0xFD30}

	sample, err := Normalize(raw, "dev-1", testTs)
	if err != nil {
		t.Fatalf("firmware variant should be accepted: %v", err)
	}
	if sample.ExportPowerW != -720 {
		t.Errorf("export_power_w = %g, want -720 via S16 fallback", sample.ExportPowerW)
	}
}

func TestNormalizeS32FallbackStillOutOfRange(t *testing.T) {
	raw := validRaw()
	// S32 = 40960, S16 fallback = -24576: both outside (-20000, 20000).
	raw["export_power"] = []uint16{0x0000, 0xA000}
	if _, err := Normalize(raw, "dev-1", testTs); err == nil {
		t.Fatal("fallback outside the valid range should reject the sample")
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	a, errA := Normalize(validRaw(), "dev-1", testTs)
	b, errB := Normalize(validRaw(), "dev-1", testTs)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	if string(aJSON) != string(bJSON) {
		t.Errorf("same input should produce the same output: %s vs %s", aJSON, bJSON)
	}
}
