// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package edge runs the two independent loops of the edge agent: poll
// (inverter -> normalizer -> spool) and upload (spool -> ingest
// service). A failed iteration is logged and the loop continues; a
// failure in one loop never affects the other. On shutdown both loops
// finish their current iteration, then one final upload flush runs.
package edge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/wluyckx/sungrow-pipeline/internal/normalizer"
	"github.com/wluyckx/sungrow-pipeline/internal/registers"
	"github.com/wluyckx/sungrow-pipeline/internal/spool"
)

// Poller is the poll-cycle contract of the supervisor.
type Poller interface {
	Poll(ctx context.Context) registers.RawMap
}

// Uploader is the upload-cycle contract of the supervisor.
type Uploader interface {
	UploadBatch(ctx context.Context, sp *spool.Spool) bool
	CurrentBackoff() time.Duration
}

// Supervisor owns the two loops and the shared resources: the spool
// (which serializes its own writes) and the liveness writer.
type Supervisor struct {
	Poller         Poller
	Uploader       Uploader
	Spool          *spool.Spool
	Liveness       *LivenessWriter
	DeviceID       string
	PollInterval   time.Duration
	UploadInterval time.Duration
}

// Run starts both loops and blocks until ctx is cancelled and both have
// finished their current iteration. A final upload attempt drains what
// the last poll iterations may have enqueued.
func (s *Supervisor) Run(ctx context.Context) {
	cclog.Info("Starting concurrent poll and upload loops")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.uploadLoop(ctx)
	}()
	wg.Wait()

	cclog.Info("Attempting final upload flush before exit")
	s.uploadOnce(context.Background())
	cclog.Info("Shutdown complete")
}

func (s *Supervisor) pollLoop(ctx context.Context) {
	cclog.Infof("Poll loop started (interval=%s)", s.PollInterval)
	for {
		s.pollOnce(ctx)
		select {
		case <-ctx.Done():
			cclog.Info("Poll loop stopped")
			return
		case <-time.After(s.PollInterval):
		}
	}
}

func (s *Supervisor) uploadLoop(ctx context.Context) {
	cclog.Infof("Upload loop started (interval=%s)", s.UploadInterval)
	for {
		s.uploadOnce(ctx)
		select {
		case <-ctx.Done():
			cclog.Info("Upload loop stopped")
			return
		case <-time.After(s.UploadInterval):
		}
	}
}

// pollOnce executes one poll-normalize-enqueue cycle. A failing spool
// drops the sample with a warning but does not stop the loop.
func (s *Supervisor) pollOnce(ctx context.Context) {
	raw := s.Poller.Poll(ctx)
	if raw == nil {
		cclog.Warn("poll cycle returned no data, skipping normalize and enqueue")
	} else {
		sample, err := normalizer.Normalize(raw, s.DeviceID, time.Now().UTC())
		if err != nil {
			cclog.Warnf("normalizer rejected sample: %v", err)
		} else {
			payload, err := json.Marshal(sample)
			if err != nil {
				cclog.Errorf("encoding sample failed: %v", err)
			} else if err := s.Spool.Enqueue(payload); err != nil {
				cclog.Warnf("spool enqueue failed, sample dropped: %v", err)
			} else {
				cclog.Infof("Poll success: enqueued sample for device=%s", s.DeviceID)
			}
		}
	}

	if s.Liveness != nil {
		if count, err := s.Spool.Count(); err != nil {
			cclog.Warnf("reading spool count failed: %v", err)
		} else {
			s.Liveness.SetSpoolCount(count)
		}
		s.Liveness.RecordPoll(time.Now())
	}
}

func (s *Supervisor) uploadOnce(ctx context.Context) {
	if s.Uploader.UploadBatch(ctx, s.Spool) {
		if s.Liveness != nil {
			s.Liveness.RecordUpload(time.Now())
		}
	}
}
