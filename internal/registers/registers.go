// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registers is the single source of truth for the Sungrow SH4.0RS
// Modbus register map as exposed by the WiNet-S dongle (Modbus TCP port
// 502, unit id 1, function code 0x04 input registers).
//
// Registers are organised into contiguous groups so the poller can issue
// one read per group. The catalog is immutable after process start;
// Validate must pass before any poll is attempted.
package registers

import "fmt"

// RegisterType is the wire encoding of a register value.
type RegisterType string

const (
	U16  RegisterType = "U16"
	S16  RegisterType = "S16"
	U32  RegisterType = "U32"
	S32  RegisterType = "S32"
	UTF8 RegisterType = "UTF8"
)

// RawMap maps a register name to the raw 16-bit words read for it, in
// transmit order (high word first for 32-bit registers).
type RawMap map[string][]uint16

// RegisterDef describes a single input register.
//
// Scale is the multiplicative factor applied to the decoded raw integer
// to obtain the engineering value; a negative scale flips the sign
// convention (used for battery_power, where raw negative means
// charging). WordCount is 1 for U16/S16, 2 for U32/S32 and explicit for
// UTF8 registers.
type RegisterDef struct {
	Address     uint16
	Name        string
	Type        RegisterType
	Unit        string
	Scale       float64
	Min         float64
	Max         float64
	HasRange    bool
	WordCount   int
	Description string
}

// RegisterGroup is a contiguous Modbus address range readable in one
// request. Optional marks groups the device may reject with an illegal
// data address exception depending on firmware; a rejected optional
// group is skipped instead of failing the poll cycle.
type RegisterGroup struct {
	Name         string
	StartAddress uint16
	Count        uint16
	Registers    []RegisterDef
	Optional     bool
}

func wordCount(t RegisterType) int {
	switch t {
	case U16, S16:
		return 1
	case U32, S32:
		return 2
	default:
		return 0
	}
}

// Device info group (4990-5000), read like any other group but only the
// serial number and model code are ever surfaced.
var deviceGroup = RegisterGroup{
	Name:         "device",
	StartAddress: 4990,
	Count:        11,
	Registers: []RegisterDef{
		{Address: 4990, Name: "serial_number", Type: UTF8, WordCount: 10,
			Scale: 1, Description: "Inverter serial number (10 ASCII chars in 10 words)"},
		{Address: 5000, Name: "device_type_code", Type: U16, WordCount: 1,
			Scale: 1, Min: 0, Max: 65535, HasRange: true, Description: "Model identifier code"},
	},
}

// PV production group (5011-5018). 5004 (total_dc_power) is dead on this
// firmware and deliberately not part of the range; pv_power at 5016 was
// confirmed against Home Assistant readings.
var pvGroup = RegisterGroup{
	Name:         "pv",
	StartAddress: 5011,
	Count:        8,
	Registers: []RegisterDef{
		{Address: 5011, Name: "daily_pv_generation", Type: U16, WordCount: 1,
			Unit: "kWh", Scale: 0.1, Min: 0, Max: 100, HasRange: true,
			Description: "PV energy generated today"},
		{Address: 5012, Name: "mppt1_voltage", Type: U16, WordCount: 1,
			Unit: "V", Scale: 0.1, Min: 0, Max: 600, HasRange: true,
			Description: "MPPT 1 DC voltage"},
		{Address: 5013, Name: "mppt1_current", Type: U16, WordCount: 1,
			Unit: "A", Scale: 0.1, Min: 0, Max: 20, HasRange: true,
			Description: "MPPT 1 DC current"},
		{Address: 5014, Name: "mppt2_voltage", Type: U16, WordCount: 1,
			Unit: "V", Scale: 0.1, Min: 0, Max: 600, HasRange: true,
			Description: "MPPT 2 DC voltage"},
		{Address: 5015, Name: "mppt2_current", Type: U16, WordCount: 1,
			Unit: "A", Scale: 0.1, Min: 0, Max: 20, HasRange: true,
			Description: "MPPT 2 DC current"},
		{Address: 5016, Name: "pv_power", Type: U16, WordCount: 1,
			Unit: "W", Scale: 1, Min: 0, Max: 20000, HasRange: true,
			Description: "AC-side PV output power"},
		{Address: 5017, Name: "total_pv_generation", Type: U32, WordCount: 2,
			Unit: "kWh", Scale: 0.1, Min: 0, Max: 1000000, HasRange: true,
			Description: "Cumulative total PV energy generated"},
	},
}

// Battery power (5213). Two-word block but only the first word carries a
// signed value: raw negative = charging. Scale -1 maps to the dashboard
// convention (positive = charging).
var batteryPowerGroup = RegisterGroup{
	Name:         "battery_power",
	StartAddress: 5213,
	Count:        1,
	Registers: []RegisterDef{
		{Address: 5213, Name: "battery_power", Type: S16, WordCount: 1,
			Unit: "W", Scale: -1, Min: -10000, Max: 10000, HasRange: true,
			Description: "Battery power, positive = charging"},
	},
}

// Load / consumption group (13007-13017). load_power is the low word of
// a word-swapped S32 pair; the high word is always zero on a 4 kW unit.
var loadGroup = RegisterGroup{
	Name:         "load",
	StartAddress: 13007,
	Count:        11,
	Registers: []RegisterDef{
		{Address: 13007, Name: "load_power", Type: U16, WordCount: 1,
			Unit: "W", Scale: 1, Min: 0, Max: 20000, HasRange: true,
			Description: "Total house load consumption"},
		{Address: 13010, Name: "grid_power", Type: S16, WordCount: 1,
			Unit: "W", Scale: 1, Min: -20000, Max: 20000, HasRange: true,
			Description: "Grid power, positive = importing"},
		{Address: 13017, Name: "daily_direct_consumption", Type: U16, WordCount: 1,
			Unit: "kWh", Scale: 0.1, Min: 0, Max: 200, HasRange: true,
			Description: "PV energy directly consumed today"},
	},
}

// Battery status group (13023-13027). 13022 is battery current, not
// power; battery power comes from batteryPowerGroup.
var batteryGroup = RegisterGroup{
	Name:         "battery",
	StartAddress: 13023,
	Count:        5,
	Registers: []RegisterDef{
		{Address: 13023, Name: "battery_soc", Type: U16, WordCount: 1,
			Unit: "%", Scale: 0.1, Min: 0, Max: 100, HasRange: true,
			Description: "Battery state of charge"},
		{Address: 13024, Name: "battery_temperature", Type: U16, WordCount: 1,
			Unit: "C", Scale: 0.1, Min: -20, Max: 60, HasRange: true,
			Description: "Battery temperature"},
		{Address: 13026, Name: "daily_battery_discharge", Type: U16, WordCount: 1,
			Unit: "kWh", Scale: 0.1, Min: 0, Max: 100, HasRange: true,
			Description: "Battery energy discharged today"},
		{Address: 13027, Name: "daily_battery_charge", Type: U16, WordCount: 1,
			Unit: "kWh", Scale: 0.1, Min: 0, Max: 100, HasRange: true,
			Description: "Battery energy charged today"},
	},
}

// Export group (5083-5084). Some WiNet-S firmwares answer this range
// with ILLEGAL DATA ADDRESS; the group is optional and the normalizer
// falls back to -grid_power when it is missing.
var exportGroup = RegisterGroup{
	Name:         "export",
	StartAddress: 5083,
	Count:        2,
	Optional:     true,
	Registers: []RegisterDef{
		{Address: 5083, Name: "export_power", Type: S32, WordCount: 2,
			Unit: "W", Scale: 1, Min: -20000, Max: 20000, HasRange: true,
			Description: "Grid export power, positive = exporting"},
	},
}

var allGroups = []RegisterGroup{
	deviceGroup,
	pvGroup,
	exportGroup,
	batteryPowerGroup,
	loadGroup,
	batteryGroup,
}

var byName = func() map[string]RegisterDef {
	m := make(map[string]RegisterDef)
	for _, g := range allGroups {
		for _, r := range g.Registers {
			m[r.Name] = r
		}
	}
	return m
}()

// Groups returns all register groups in recommended read order.
func Groups() []RegisterGroup {
	return allGroups
}

// Lookup returns the register definition for name.
func Lookup(name string) (RegisterDef, bool) {
	r, ok := byName[name]
	return r, ok
}

// Validate checks the catalog invariants: unique names and addresses,
// word counts matching types, sane ranges and group containment. A
// failure is a programming error and must abort startup.
func Validate() error {
	names := make(map[string]bool)
	addrs := make(map[uint16]bool)
	for _, g := range allGroups {
		if len(g.Registers) == 0 {
			return fmt.Errorf("group %q has no registers", g.Name)
		}
		for _, r := range g.Registers {
			if names[r.Name] {
				return fmt.Errorf("duplicate register name %q", r.Name)
			}
			names[r.Name] = true
			if addrs[r.Address] {
				return fmt.Errorf("register %q: duplicate address %d", r.Name, r.Address)
			}
			addrs[r.Address] = true

			if wc := wordCount(r.Type); wc != 0 && r.WordCount != wc {
				return fmt.Errorf("register %q: word count %d does not match type %s",
					r.Name, r.WordCount, r.Type)
			}
			if r.Type == UTF8 && r.WordCount <= 0 {
				return fmt.Errorf("register %q: UTF8 requires an explicit word count", r.Name)
			}
			if r.Scale == 0 {
				return fmt.Errorf("register %q: scale must be non-zero", r.Name)
			}
			if r.HasRange && r.Min >= r.Max {
				return fmt.Errorf("register %q: invalid range (%g, %g)", r.Name, r.Min, r.Max)
			}

			if r.Address < g.StartAddress ||
				uint32(r.Address)+uint32(r.WordCount) > uint32(g.StartAddress)+uint32(g.Count) {
				return fmt.Errorf("register %q (%d+%d words) outside group %q (%d+%d)",
					r.Name, r.Address, r.WordCount, g.Name, g.StartAddress, g.Count)
			}
		}
	}
	return nil
}
