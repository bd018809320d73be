// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBlocksWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "loader",
		Name:      "blocks_written_total",
		Help:      "Total number of blocks written during image preparation, by kind",
	}, []string{"kind"})
	metricBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "loader",
		Name:      "bytes_written_total",
		Help:      "Total amount of data written during image preparation",
	})
	metricBlocksStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "loader",
		Name:      "blocks_streamed_total",
		Help:      "Total number of blocks committed from the streaming channel",
	})
)
