// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// sungrow-vps is the central ingest service: it accepts authenticated
// sample batches from edge agents, persists them into TimescaleDB and
// answers realtime and series queries backed by a short-TTL cache.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/wluyckx/sungrow-pipeline/internal/api"
	"github.com/wluyckx/sungrow-pipeline/internal/auth"
	"github.com/wluyckx/sungrow-pipeline/internal/cache"
	"github.com/wluyckx/sungrow-pipeline/internal/config"
	"github.com/wluyckx/sungrow-pipeline/internal/repository"
	"github.com/wluyckx/sungrow-pipeline/internal/taskmanager"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("Version:\t%s\n", version)
		fmt.Printf("Git hash:\t%s\n", commit)
		fmt.Printf("Build time:\t%s\n", date)
		os.Exit(0)
	}

	cclog.Init(flagLogLevel, flagLogDateTime)

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Abortf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		cclog.Abortf("parsing %q file failed: %s", flagEnvFile, err.Error())
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		cclog.Abortf("configuration invalid: %s", err.Error())
	}

	if flagMigrateDB {
		if err := repository.MigrateDB(cfg.DatabaseURL); err != nil {
			cclog.Abortf("db migration failed: %s", err.Error())
		}
		os.Exit(0)
	}

	if err := repository.MigrateDB(cfg.DatabaseURL); err != nil {
		cclog.Abortf("db migration failed: %s", err.Error())
	}
	if err := repository.Connect("postgres", cfg.DatabaseURL); err != nil {
		cclog.Abortf("database connection failed: %s", err.Error())
	}
	conn, err := repository.GetConnection()
	if err != nil {
		cclog.Abortf("database connection failed: %s", err.Error())
	}
	sampleRepo := repository.NewSampleRepository(conn.DB, conn.Driver)

	authentication, err := auth.New(cfg.DeviceTokens)
	if err != nil {
		cclog.Abortf("parsing device credentials failed: %s", err.Error())
	}

	cacheClient, err := cache.Connect(cfg.CacheURL)
	if err != nil {
		cclog.Abortf("invalid cache URL: %s", err.Error())
	}

	taskmanager.Start(sampleRepo)

	restAPI := api.New(sampleRepo, authentication, cacheClient, cfg)
	serverInit(restAPI, authentication, cfg)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		serverShutdown()
		taskmanager.Shutdown()
		if err := cacheClient.Close(); err != nil {
			cclog.Warnf("closing cache client failed: %v", err)
		}
		if err := conn.DB.Close(); err != nil {
			cclog.Warnf("closing database failed: %v", err)
		}
	}()

	serverStart(cfg)
	cclog.Info("Graceful shutdown completed!")
}
