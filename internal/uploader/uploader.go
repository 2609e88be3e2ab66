// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package uploader drains the spool toward the ingest service. A batch
// is peeked, POSTed and only acknowledged after a 2xx response, so a
// crash between POST and ack re-sends the batch and the server's
// idempotent insert absorbs the duplicates.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/wluyckx/sungrow-pipeline/internal/spool"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

const (
	initialBackoff    = 1 * time.Second
	DefaultMaxBackoff = 300 * time.Second
	defaultTimeout    = 30 * time.Second
)

// Config describes one uploader. BaseURL must use a TLS scheme;
// certificate verification is always on. HTTPClient is overridable for
// tests and defaults to a client with a conservative timeout.
type Config struct {
	BaseURL    string
	Token      string
	BatchSize  int
	MaxBackoff time.Duration
	HTTPClient *http.Client
}

// Uploader posts spooled batches to {base_url}/v1/ingest with bearer
// authentication. It never sleeps itself; the supervisor paces calls and
// CurrentBackoff exposes the backoff state for observability.
type Uploader struct {
	baseURL        string
	token          string
	batchSize      int
	maxBackoff     time.Duration
	currentBackoff time.Duration
	client         *http.Client
}

type ingestRequest struct {
	Samples []schema.Sample `json:"samples"`
}

// New validates the configuration and returns an uploader. A base URL
// without an https scheme is rejected outright.
func New(cfg Config) (*Uploader, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest base URL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("ingest base URL must use https (got %q)", cfg.BaseURL)
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Uploader{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		batchSize:      cfg.BatchSize,
		maxBackoff:     maxBackoff,
		currentBackoff: initialBackoff,
		client:         client,
	}, nil
}

// CurrentBackoff is the delay a caller should wait after a failed
// attempt. It starts at 1s, doubles per consecutive failure up to the
// configured maximum and resets to 1s after a success.
func (u *Uploader) CurrentBackoff() time.Duration {
	return u.currentBackoff
}

// UploadBatch peeks up to batchSize entries, POSTs them and acks exactly
// the peeked sequences on success. Returns true only when the server
// acknowledged the batch; an empty spool returns false without side
// effects.
func (u *Uploader) UploadBatch(ctx context.Context, sp *spool.Spool) bool {
	entries, err := sp.Peek(u.batchSize)
	if err != nil {
		cclog.Errorf("spool peek failed: %v", err)
		return false
	}
	if len(entries) == 0 {
		cclog.Debug("Spool empty, skipping upload")
		return false
	}

	sequences := make([]int64, 0, len(entries))
	samples := make([]schema.Sample, 0, len(entries))
	for _, e := range entries {
		var s schema.Sample
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			cclog.Errorf("decoding spooled payload (sequence %d) failed: %v", e.Sequence, err)
			return false
		}
		sequences = append(sequences, e.Sequence)
		samples = append(samples, s)
	}

	body, err := json.Marshal(ingestRequest{Samples: samples})
	if err != nil {
		cclog.Errorf("encoding ingest request failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/v1/ingest", bytes.NewReader(body))
	if err != nil {
		cclog.Errorf("building ingest request failed: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.client.Do(req)
	if err != nil {
		cclog.Warnf("upload failed (network error): %v", err)
		u.increaseBackoff()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		u.increaseBackoff()
		cclog.Warnf("upload failed (HTTP %d), backoff now %s",
			resp.StatusCode, u.currentBackoff)
		return false
	}

	if err := sp.Ack(sequences); err != nil {
		// The server stored the batch; the next upload re-sends it and
		// the idempotent insert reports 0 inserted.
		cclog.Errorf("acking %d uploaded samples failed: %v", len(sequences), err)
		return false
	}

	cclog.Infof("Uploaded %d samples, acked sequences %v", len(samples), sequences)
	u.currentBackoff = initialBackoff
	return true
}

func (u *Uploader) increaseBackoff() {
	u.currentBackoff *= 2
	if u.currentBackoff > u.maxBackoff {
		u.currentBackoff = u.maxBackoff
	}
}
