// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "protocol",
		Name:      "requests_sent_total",
		Help:      "Total number of request commands sent, by type",
	}, []string{"type"})
	metricChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "protocol",
		Name:      "chunks_received_total",
		Help:      "Total number of chunks received",
	})
	metricChunkBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incload",
		Subsystem: "protocol",
		Name:      "chunk_bytes_received_total",
		Help:      "Total amount of chunk payload received",
	})
)
