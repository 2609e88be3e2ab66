// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

// IngestPayload model
type IngestPayload struct {
	Samples []schema.Sample `json:"samples"`
}

// IngestResponse model
type IngestResponse struct {
	Inserted int64 `json:"inserted"`
}

// ingest handles POST /v1/ingest. The checks run in a fixed order so
// behavior stays predictable under adversarial input: auth (middleware),
// content-length precheck, body size, schema, empty batch, batch size
// cap, ownership, idempotent insert, cache invalidation.
func (api *RestApi) ingest(rw http.ResponseWriter, r *http.Request) {
	deviceID := auth.DeviceFromContext(r.Context())

	// Pre-read check so an oversized upload is rejected before buffering.
	if cl := r.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			handleError(fmt.Errorf("invalid Content-Length header"), http.StatusBadRequest, rw)
			return
		}
		if n > api.Config.MaxRequestBytes {
			handleError(fmt.Errorf("request body exceeds limit of %d bytes", api.Config.MaxRequestBytes),
				http.StatusRequestEntityTooLarge, rw)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, api.Config.MaxRequestBytes+1))
	if err != nil {
		handleError(fmt.Errorf("reading request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	if int64(len(body)) > api.Config.MaxRequestBytes {
		handleError(fmt.Errorf("request body exceeds limit of %d bytes", api.Config.MaxRequestBytes),
			http.StatusRequestEntityTooLarge, rw)
		return
	}

	if fieldErrs := schema.ValidateIngestPayload(body); fieldErrs != nil {
		rw.Header().Add("Content-Type", "application/json")
		rw.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(rw).Encode(map[string]interface{}{"detail": fieldErrs})
		return
	}

	var payload IngestPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		rw.Header().Add("Content-Type", "application/json")
		rw.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"detail": []schema.FieldError{{Field: "", Error: err.Error()}},
		})
		return
	}

	if len(payload.Samples) == 0 {
		writeJSON(rw, http.StatusOK, IngestResponse{Inserted: 0})
		return
	}

	if len(payload.Samples) > api.Config.MaxSamplesPerRequest {
		handleError(fmt.Errorf("batch size %d exceeds limit of %d, split into smaller batches",
			len(payload.Samples), api.Config.MaxSamplesPerRequest),
			http.StatusRequestEntityTooLarge, rw)
		return
	}

	for _, sample := range payload.Samples {
		if sample.DeviceID != deviceID {
			handleError(fmt.Errorf("sample device_id %q does not match authenticated device %q",
				sample.DeviceID, deviceID), http.StatusForbidden, rw)
			return
		}
	}

	inserted, err := api.SampleRepository.InsertSamples(r.Context(), payload.Samples)
	if err != nil {
		handleError(fmt.Errorf("storing samples failed: %w", err), http.StatusInternalServerError, rw)
		return
	}

	samplesIngested.Add(float64(inserted))
	samplesDuplicate.Add(float64(int64(len(payload.Samples)) - inserted))
	cclog.Infof("Ingested %d/%d samples for device %s", inserted, len(payload.Samples), deviceID)

	if inserted > 0 {
		api.Cache.Invalidate(r.Context(), deviceID)
	}

	writeJSON(rw, http.StatusOK, IngestResponse{Inserted: inserted})
}
