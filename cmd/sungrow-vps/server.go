// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/wluyckx/sungrow-pipeline/internal/api"
	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/internal/config"
)

var (
	router *mux.Router
	server *http.Server
)

func onFailureResponse(rw http.ResponseWriter, r *http.Request, err error) {
	rw.Header().Add("Content-Type", "application/json")
	rw.Header().Add("WWW-Authenticate", "Bearer")
	rw.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(rw).Encode(map[string]string{
		"status": http.StatusText(http.StatusUnauthorized),
		"error":  err.Error(),
	})
}

func serverInit(restAPI *api.RestApi, authentication *auth.Authenticator, cfg *config.ServerConfig) {
	router = mux.NewRouter()

	securedapi := router.PathPrefix("/v1").Subrouter()
	securedapi.Use(func(next http.Handler) http.Handler {
		return authentication.Auth(
			// On success;
			next,
			// On failure: JSON Response
			onFailureResponse)
	})

	restAPI.MountApiRoutes(securedapi)
	restAPI.MountOpenRoutes(router)

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	// Query endpoints are browsable from the configured dashboard origin
	// only, GET only, with the bearer header allowed.
	corsOrigins := []string{}
	if cfg.DashboardOrigin != "" {
		corsOrigins = append(corsOrigins, cfg.DashboardOrigin)
	}
	router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Origin"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins(corsOrigins)))
}

func serverStart(cfg *config.ServerConfig) {
	handler := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		if strings.HasPrefix(params.Request.RequestURI, "/v1/") {
			cclog.Infof("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		} else {
			cclog.Debugf("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		}
	})

	server = &http.Server{
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		Handler:      handler,
		Addr:         cfg.Addr,
	}

	cclog.Infof("HTTP server listening at %s...", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cclog.Fatalf("starting server failed: %v", err)
	}
}

func serverShutdown() {
	// Shut down the server gracefully, waiting for all ongoing requests.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
