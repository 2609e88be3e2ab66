// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/internal/repository"
	"github.com/wluyckx/sungrow-pipeline/pkg/schema"
)

// SeriesResponse model
type SeriesResponse struct {
	DeviceID string             `json:"device_id"`
	Frame    string             `json:"frame"`
	Series   []schema.BucketRow `json:"series"`
}

// series handles GET /v1/series?device_id=...&frame=... and maps the
// coarse frame onto an aggregate view and a time window. An empty series
// is a valid 200.
func (api *RestApi) series(rw http.ResponseWriter, r *http.Request) {
	authDevice := auth.DeviceFromContext(r.Context())
	deviceID := r.URL.Query().Get("device_id")
	frame := repository.Frame(r.URL.Query().Get("frame"))

	if !repository.ValidFrame(frame) {
		handleError(fmt.Errorf("invalid frame %q, must be one of: day, month, year, all", frame),
			http.StatusUnprocessableEntity, rw)
		return
	}
	if deviceID != authDevice {
		handleError(fmt.Errorf("device_id does not match authenticated device"), http.StatusForbidden, rw)
		return
	}

	rows, err := api.SampleRepository.QuerySeries(r.Context(), deviceID, frame, time.Now().UTC())
	if err != nil {
		handleError(fmt.Errorf("series query failed: %w", err), http.StatusInternalServerError, rw)
		return
	}

	writeJSON(rw, http.StatusOK, SeriesResponse{
		DeviceID: deviceID,
		Frame:    string(frame),
		Series:   rows,
	})
}
