// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the environment-based configuration
// of both binaries. Configuration is immutable after startup; a
// validation failure must abort the process with a non-zero exit code.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// EdgeConfig is the edge agent configuration. All values come from the
// environment (optionally seeded from a .env file by main).
type EdgeConfig struct {
	SungrowHost        string
	SungrowPort        int
	SungrowSlaveID     int
	PollInterval       time.Duration
	InterRegisterDelay time.Duration
	VpsBaseURL         string
	VpsDeviceToken     string
	DeviceID           string
	BatchSize          int
	UploadInterval     time.Duration
	SpoolPath          string
	HealthPath         string
}

// ServerConfig is the ingest service configuration.
type ServerConfig struct {
	Addr                 string
	DatabaseURL          string
	CacheURL             string
	DeviceTokens         string
	MaxSamplesPerRequest int
	MaxRequestBytes      int64
	CacheTTL             time.Duration
	DashboardOrigin      string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// LoadEdgeConfig reads and validates the edge configuration from the
// environment.
func LoadEdgeConfig() (*EdgeConfig, error) {
	cfg := &EdgeConfig{
		SungrowHost:    os.Getenv("SUNGROW_HOST"),
		VpsBaseURL:     os.Getenv("VPS_BASE_URL"),
		VpsDeviceToken: os.Getenv("VPS_DEVICE_TOKEN"),
		DeviceID:       os.Getenv("DEVICE_ID"),
		SpoolPath:      getenv("SPOOL_PATH", "/data/spool.db"),
		HealthPath:     getenv("HEALTH_PATH", "/data/health.json"),
	}

	if cfg.SungrowHost == "" {
		return nil, fmt.Errorf("SUNGROW_HOST is required")
	}
	if cfg.VpsBaseURL == "" {
		return nil, fmt.Errorf("VPS_BASE_URL is required")
	}
	if cfg.VpsDeviceToken == "" {
		return nil, fmt.Errorf("VPS_DEVICE_TOKEN is required")
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = cfg.SungrowHost
	}

	u, err := url.Parse(cfg.VpsBaseURL)
	if err != nil || u.Scheme != "https" {
		return nil, fmt.Errorf("VPS_BASE_URL must use https (got %q)", cfg.VpsBaseURL)
	}

	port, err := getenvInt("SUNGROW_PORT", 502)
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("SUNGROW_PORT must be between 1 and 65535")
	}
	cfg.SungrowPort = port

	slave, err := getenvInt("SUNGROW_SLAVE_ID", 1)
	if err != nil {
		return nil, err
	}
	if slave < 1 || slave > 247 {
		return nil, fmt.Errorf("SUNGROW_SLAVE_ID must be between 1 and 247")
	}
	cfg.SungrowSlaveID = slave

	pollS, err := getenvInt("POLL_INTERVAL_S", 5)
	if err != nil {
		return nil, err
	}
	// The WiNet-S dongle destabilizes under faster polling.
	if pollS < 5 {
		return nil, fmt.Errorf("POLL_INTERVAL_S must be >= 5")
	}
	cfg.PollInterval = time.Duration(pollS) * time.Second

	delayMs, err := getenvInt("INTER_REGISTER_DELAY_MS", 20)
	if err != nil {
		return nil, err
	}
	if delayMs < 0 {
		return nil, fmt.Errorf("INTER_REGISTER_DELAY_MS must be >= 0")
	}
	cfg.InterRegisterDelay = time.Duration(delayMs) * time.Millisecond

	batch, err := getenvInt("BATCH_SIZE", 30)
	if err != nil {
		return nil, err
	}
	if batch < 1 || batch > 1000 {
		return nil, fmt.Errorf("BATCH_SIZE must be between 1 and 1000")
	}
	cfg.BatchSize = batch

	uploadS, err := getenvInt("UPLOAD_INTERVAL_S", 10)
	if err != nil {
		return nil, err
	}
	if uploadS < 1 {
		return nil, fmt.Errorf("UPLOAD_INTERVAL_S must be >= 1")
	}
	cfg.UploadInterval = time.Duration(uploadS) * time.Second

	return cfg, nil
}

// LoadServerConfig reads and validates the ingest service configuration
// from the environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Addr:            getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CacheURL:        os.Getenv("CACHE_URL"),
		DeviceTokens:    os.Getenv("DEVICE_TOKENS"),
		DashboardOrigin: os.Getenv("DASHBOARD_ORIGIN"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CacheURL == "" {
		return nil, fmt.Errorf("CACHE_URL is required")
	}
	if cfg.DeviceTokens == "" {
		return nil, fmt.Errorf("DEVICE_TOKENS is required")
	}

	maxSamples, err := getenvInt("MAX_SAMPLES_PER_REQUEST", 1000)
	if err != nil {
		return nil, err
	}
	if maxSamples < 1 {
		return nil, fmt.Errorf("MAX_SAMPLES_PER_REQUEST must be >= 1")
	}
	cfg.MaxSamplesPerRequest = maxSamples

	maxBytes, err := getenvInt("MAX_REQUEST_BYTES", 1048576)
	if err != nil {
		return nil, err
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("MAX_REQUEST_BYTES must be >= 1")
	}
	cfg.MaxRequestBytes = int64(maxBytes)

	ttlS, err := getenvInt("CACHE_TTL_S", 5)
	if err != nil {
		return nil, err
	}
	if ttlS < 1 {
		return nil, fmt.Errorf("CACHE_TTL_S must be >= 1")
	}
	cfg.CacheTTL = time.Duration(ttlS) * time.Second

	return cfg, nil
}
