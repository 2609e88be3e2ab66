// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/internal/cache"
	"github.com/wluyckx/sungrow-pipeline/internal/repository"
)

// realtime handles GET /v1/realtime?device_id=... and returns the latest
// stored sample of the device, cached for a few seconds. Cache failures
// on read or write are bypassed silently; the store stays the source of
// truth.
func (api *RestApi) realtime(rw http.ResponseWriter, r *http.Request) {
	authDevice := auth.DeviceFromContext(r.Context())
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		handleError(fmt.Errorf("query parameter device_id is required"), http.StatusBadRequest, rw)
		return
	}
	if deviceID != authDevice {
		handleError(fmt.Errorf("device_id does not match authenticated device"), http.StatusForbidden, rw)
		return
	}

	key := cache.RealtimeKey(deviceID)
	if cached, ok := api.Cache.Get(r.Context(), key); ok {
		rw.Header().Add("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)
		rw.Write(cached)
		return
	}

	sample, err := api.SampleRepository.LatestSample(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			handleError(fmt.Errorf("no data found for device_id %q", deviceID), http.StatusNotFound, rw)
			return
		}
		handleError(fmt.Errorf("loading latest sample failed: %w", err), http.StatusInternalServerError, rw)
		return
	}

	encoded, err := json.Marshal(sample)
	if err != nil {
		handleError(fmt.Errorf("encoding sample failed: %w", err), http.StatusInternalServerError, rw)
		return
	}
	api.Cache.Set(r.Context(), key, encoded, api.Config.CacheTTL)
	cclog.Debugf("realtime cache refreshed for device %s", deviceID)

	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	rw.Write(encoded)
}
