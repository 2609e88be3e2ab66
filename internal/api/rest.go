// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the REST surface of the ingest service: batch
// ingest, realtime and series queries, plus health and metrics.
package api

import (
	"encoding/json"
	"net/http"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/internal/cache"
	"github.com/wluyckx/sungrow-pipeline/internal/config"
	"github.com/wluyckx/sungrow-pipeline/internal/repository"
)

// RestApi bundles the dependencies of all handlers. The repository and
// cache client are singletons behind their own synchronization; handlers
// keep no state of their own.
type RestApi struct {
	SampleRepository *repository.SampleRepository
	Authentication   *auth.Authenticator
	Cache            *cache.Client
	Config           *config.ServerConfig
}

func New(
	repo *repository.SampleRepository,
	authentication *auth.Authenticator,
	cacheClient *cache.Client,
	cfg *config.ServerConfig,
) *RestApi {
	return &RestApi{
		SampleRepository: repo,
		Authentication:   authentication,
		Cache:            cacheClient,
		Config:           cfg,
	}
}

// MountApiRoutes registers the authenticated v1 endpoints on r; the
// caller applies the auth middleware to the (sub)router.
func (api *RestApi) MountApiRoutes(r *mux.Router) {
	r.StrictSlash(true)

	r.HandleFunc("/ingest", api.ingest).Methods(http.MethodPost)
	r.HandleFunc("/realtime", api.realtime).Methods(http.MethodGet)
	r.HandleFunc("/series", api.series).Methods(http.MethodGet)
}

// MountOpenRoutes registers the unauthenticated endpoints.
func (api *RestApi) MountOpenRoutes(r *mux.Router) {
	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/", healthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// ErrorResponse model
type ErrorResponse struct {
	// Statustext of Errorcode
	Status string `json:"status"`
	Error  string `json:"error"` // Error Message
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	cclog.Warnf("REST ERROR : %s", err.Error())
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func writeJSON(rw http.ResponseWriter, statusCode int, payload interface{}) {
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		cclog.Errorf("encoding response failed: %v", err)
	}
}

func healthCheck(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}
