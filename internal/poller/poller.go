// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poller reads all register groups from the inverter over Modbus
// TCP. A poll cycle opens a fresh session, reads every group in catalog
// order with inter-group pacing and closes the session again, even on
// error. Errors never propagate out of Poll; the cycle result is nil and
// the stateful backoff grows instead.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/simonvetter/modbus"
	"github.com/wluyckx/sungrow-pipeline/internal/registers"
)

const (
	// ModbusTimeout bounds every request on the session (WiNet-S guideline).
	ModbusTimeout = 10 * time.Second

	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second
)

// Config describes the Modbus endpoint and pacing for one device.
type Config struct {
	Host               string
	Port               int
	SlaveID            uint8
	InterRegisterDelay time.Duration
}

// Poller executes poll cycles with exponential backoff across attempts.
// It keeps no session between cycles; each Poll opens and closes its own
// TCP connection.
type Poller struct {
	cfg                 Config
	consecutiveFailures int
}

func New(cfg Config) *Poller {
	return &Poller{cfg: cfg}
}

// ConsecutiveFailures returns the current failure streak, exposed for
// liveness reporting and tests.
func (p *Poller) ConsecutiveFailures() int {
	return p.consecutiveFailures
}

// Poll executes a single poll cycle and returns the raw word map, or nil
// on any error. When previous cycles failed, Poll first sleeps
// min(1s * 2^(n-1), 60s); the sleep aborts promptly on context
// cancellation and the cycle is skipped.
func (p *Poller) Poll(ctx context.Context) registers.RawMap {
	if p.consecutiveFailures > 0 {
		delay := backoffDelay(p.consecutiveFailures)
		cclog.Warnf("Backoff: sleeping %s before retry (consecutive failures: %d)",
			delay, p.consecutiveFailures)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	result := pollOnce(ctx, p.cfg)
	if result != nil {
		p.consecutiveFailures = 0
	} else {
		p.consecutiveFailures++
	}
	return result
}

func backoffDelay(failures int) time.Duration {
	delay := baseBackoff << (failures - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

// pollOnce runs one complete session: connect, read all groups in order,
// close. Any transport or protocol error aborts the cycle, except that
// an optional group answered with an illegal data address exception is
// skipped.
func pollOnce(ctx context.Context, cfg Config) registers.RawMap {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout: ModbusTimeout,
	})
	if err != nil {
		cclog.Errorf("creating modbus client for %s:%d failed: %v", cfg.Host, cfg.Port, err)
		return nil
	}

	if err := client.Open(); err != nil {
		cclog.Warnf("failed to connect to modbus device %s:%d: %v", cfg.Host, cfg.Port, err)
		return nil
	}
	defer client.Close()

	if err := client.SetUnitId(cfg.SlaveID); err != nil {
		cclog.Warnf("setting modbus unit id %d failed: %v", cfg.SlaveID, err)
		return nil
	}

	result := make(registers.RawMap)
	for i, group := range registers.Groups() {
		// Inter-register delay between groups, not before the first read.
		if i > 0 && cfg.InterRegisterDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.InterRegisterDelay):
			}
		}

		words, err := client.ReadRegisters(group.StartAddress, group.Count, modbus.INPUT_REGISTER)
		if err != nil {
			if group.Optional && errors.Is(err, modbus.ErrIllegalDataAddress) {
				cclog.Warnf("optional group %q unsupported by firmware (address=%d, count=%d), continuing",
					group.Name, group.StartAddress, group.Count)
				continue
			}
			cclog.Warnf("modbus error reading group %q (address=%d, count=%d): %v",
				group.Name, group.StartAddress, group.Count, err)
			return nil
		}

		sliceGroup(group, words, result)
	}

	return result
}

// sliceGroup cuts the group-level word block into per-register slices by
// address offset.
func sliceGroup(group registers.RegisterGroup, words []uint16, out registers.RawMap) {
	for _, reg := range group.Registers {
		offset := int(reg.Address - group.StartAddress)
		if offset+reg.WordCount > len(words) {
			continue
		}
		out[reg.Name] = words[offset : offset+reg.WordCount]
	}
}
