// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagGops, flagVersion, flagLogDateTime bool
	flagEnvFile, flagLogLevel              string
)

func cliInit() {
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Specify alternative path to `.env` file")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `[debug, info (default), warn, err, crit]`")
	flag.Parse()
}
