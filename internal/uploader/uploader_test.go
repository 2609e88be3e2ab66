// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package uploader

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wluyckx/sungrow-pipeline/internal/spool"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

func testSamplePayload(t *testing.T, deviceID string, ts time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(schema.Sample{
		DeviceID:      deviceID,
		Ts:            ts,
		PvPowerW:      3500,
		BatteryPowerW: -1500,
		BatterySocPct: 75,
		LoadPowerW:    2000,
		ExportPowerW:  0,
		SampleCount:   1,
	})
	require.NoError(t, err)
	return payload
}

func openTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp, err := spool.Open(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sp.Close() })
	return sp
}

func TestNewRejectsPlainHTTP(t *testing.T) {
	_, err := New(Config{BaseURL: "http://ingest.example.com", Token: "tok", BatchSize: 10})
	assert.Error(t, err)
}

func TestUploadBatchEmptySpool(t *testing.T) {
	sp := openTestSpool(t)

	u, err := New(Config{BaseURL: "https://ingest.example.com", Token: "tok", BatchSize: 10})
	require.NoError(t, err)

	assert.False(t, u.UploadBatch(t.Context(), sp))
	assert.Equal(t, 1*time.Second, u.CurrentBackoff())
}

func TestUploadBatchSuccessAcks(t *testing.T) {
	sp := openTestSpool(t)
	ts := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sp.Enqueue(testSamplePayload(t, "dev-1", ts)))
	require.NoError(t, sp.Enqueue(testSamplePayload(t, "dev-1", ts.Add(5*time.Second))))

	var gotPath, gotAuth string
	var gotBody ingestRequest
	srv := httptest.NewTLSServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(`{"inserted":2}`))
	}))
	defer srv.Close()

	u, err := New(Config{
		BaseURL:    srv.URL,
		Token:      "tok-A",
		BatchSize:  10,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	assert.True(t, u.UploadBatch(t.Context(), sp))
	assert.Equal(t, "/v1/ingest", gotPath)
	assert.Equal(t, "Bearer tok-A", gotAuth)
	require.Len(t, gotBody.Samples, 2)
	assert.Equal(t, "dev-1", gotBody.Samples[0].DeviceID)

	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count, "acknowledged entries must be removed")
}

func TestUploadBatchFailureKeepsSpool(t *testing.T) {
	sp := openTestSpool(t)
	require.NoError(t, sp.Enqueue(testSamplePayload(t, "dev-1", time.Now().UTC())))

	srv := httptest.NewTLSServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u, err := New(Config{
		BaseURL:    srv.URL,
		Token:      "tok-A",
		BatchSize:  10,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	assert.False(t, u.UploadBatch(t.Context(), sp))

	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed uploads must not ack")
}

// Three consecutive failures drive the backoff to 8s; a single success
// resets it to 1s.
func TestBackoffDoublesAndResets(t *testing.T) {
	sp := openTestSpool(t)
	require.NoError(t, sp.Enqueue(testSamplePayload(t, "dev-1", time.Now().UTC())))

	fail := true
	srv := httptest.NewTLSServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if fail {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.Write([]byte(`{"inserted":1}`))
	}))
	defer srv.Close()

	u, err := New(Config{
		BaseURL:    srv.URL,
		Token:      "tok-A",
		BatchSize:  10,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, want := range expected {
		assert.False(t, u.UploadBatch(t.Context(), sp))
		assert.Equal(t, want, u.CurrentBackoff(), "after failure %d", i+1)
	}

	fail = false
	assert.True(t, u.UploadBatch(t.Context(), sp))
	assert.Equal(t, 1*time.Second, u.CurrentBackoff(), "success must reset the backoff")
}

func TestBackoffIsCapped(t *testing.T) {
	u, err := New(Config{
		BaseURL:    "https://ingest.example.com",
		Token:      "tok",
		BatchSize:  10,
		MaxBackoff: 4 * time.Second,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		u.increaseBackoff()
	}
	assert.Equal(t, 4*time.Second, u.CurrentBackoff())
}
