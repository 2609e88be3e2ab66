// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package edge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// LivenessWriter maintains the edge liveness file. Every state change
// rewrites the whole file via a temp-file rename, so readers (Docker
// HEALTHCHECK, monitoring) always see a complete document and need no
// coordination with the writer.
type LivenessWriter struct {
	path  string
	mu    sync.Mutex
	state livenessState
}

type livenessState struct {
	LastPollTs   *string `json:"last_poll_ts"`
	LastUploadTs *string `json:"last_upload_ts"`
	SpoolCount   int     `json:"spool_count"`
}

func NewLivenessWriter(path string) *LivenessWriter {
	return &LivenessWriter{path: path}
}

// RecordPoll stamps the most recent poll attempt.
func (w *LivenessWriter) RecordPoll(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := now.UTC().Format(time.RFC3339)
	w.state.LastPollTs = &ts
	w.write()
}

// RecordUpload stamps the most recent successful upload.
func (w *LivenessWriter) RecordUpload(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := now.UTC().Format(time.RFC3339)
	w.state.LastUploadTs = &ts
	w.write()
}

// SetSpoolCount publishes the current spool depth.
func (w *LivenessWriter) SetSpoolCount(count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.SpoolCount = count
	w.write()
}

func (w *LivenessWriter) write() {
	data, err := json.Marshal(w.state)
	if err != nil {
		cclog.Warnf("encoding liveness state failed: %v", err)
		return
	}

	tmp := w.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		cclog.Warnf("creating liveness directory failed: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		cclog.Warnf("writing liveness file failed: %v", err)
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		cclog.Warnf("replacing liveness file failed: %v", err)
	}
}
