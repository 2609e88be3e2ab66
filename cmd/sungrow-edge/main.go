// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// sungrow-edge is the LAN agent: it polls a Sungrow SH4.0RS hybrid
// inverter over Modbus TCP, normalizes the register values into samples,
// buffers them in a crash-durable local spool and uploads batches to the
// central ingest service over HTTPS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/wluyckx/sungrow-pipeline/internal/config"
	"github.com/wluyckx/sungrow-pipeline/internal/edge"
	"github.com/wluyckx/sungrow-pipeline/internal/poller"
	"github.com/wluyckx/sungrow-pipeline/internal/registers"
	"github.com/wluyckx/sungrow-pipeline/internal/spool"
	"github.com/wluyckx/sungrow-pipeline/internal/uploader"
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

	cfg, err := config.LoadEdgeConfig()
	if err != nil {
		cclog.Abortf("configuration invalid: %s", err.Error())
	}

	if err := registers.Validate(); err != nil {
		cclog.Abortf("register catalog invalid: %s", err.Error())
	}

	// Config summary without the device token.
	cclog.Infof("Edge agent starting: sungrow_host=%s sungrow_port=%d slave_id=%d "+
		"poll_interval=%s upload_interval=%s inter_register_delay=%s batch_size=%d "+
		"spool_path=%s device_id=%s vps_base_url=%s",
		cfg.SungrowHost, cfg.SungrowPort, cfg.SungrowSlaveID,
		cfg.PollInterval, cfg.UploadInterval, cfg.InterRegisterDelay, cfg.BatchSize,
		cfg.SpoolPath, cfg.DeviceID, cfg.VpsBaseURL)

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		cclog.Abortf("opening spool failed: %s", err.Error())
	}
	defer sp.Close()

	up, err := uploader.New(uploader.Config{
		BaseURL:   cfg.VpsBaseURL,
		Token:     cfg.VpsDeviceToken,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		cclog.Abortf("uploader setup failed: %s", err.Error())
	}

	supervisor := &edge.Supervisor{
		Poller: poller.New(poller.Config{
			Host:               cfg.SungrowHost,
			Port:               cfg.SungrowPort,
			SlaveID:            uint8(cfg.SungrowSlaveID),
			InterRegisterDelay: cfg.InterRegisterDelay,
		}),
		Uploader:       up,
		Spool:          sp,
		Liveness:       edge.NewLivenessWriter(cfg.HealthPath),
		DeviceID:       cfg.DeviceID,
		PollInterval:   cfg.PollInterval,
		UploadInterval: cfg.UploadInterval,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor.Run(ctx)
}
