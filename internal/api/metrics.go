// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sungrow_samples_ingested_total",
		Help: "Number of samples newly stored by the ingest endpoint.",
	})
	samplesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sungrow_samples_duplicate_total",
		Help: "Number of ingested samples skipped as already stored.",
	})
)
