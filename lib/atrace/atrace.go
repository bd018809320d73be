// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package atrace writes trace markers into the kernel trace buffer and
// exposes the ambient "is tracing on" state. The state is a property of the
// host, not of any single loader, which is why the watcher in this package
// is process-wide.
package atrace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/incload/incload/lib/sync"
)

const (
	tracingOnFile   = "tracing_on"
	traceMarkerFile = "trace_marker"
)

var (
	mut       = sync.NewMutex()
	root      = defaultRoot()
	markerFd  *os.File
	markerErr error
)

func defaultRoot() string {
	for _, dir := range []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"} {
		if _, err := os.Stat(filepath.Join(dir, tracingOnFile)); err == nil {
			return dir
		}
	}
	return "/sys/kernel/tracing"
}

// SetRoot points the package at a different tracefs mount. Mostly for tests
// and odd container setups.
func SetRoot(dir string) {
	mut.Lock()
	defer mut.Unlock()
	root = dir
	if markerFd != nil {
		markerFd.Close()
		markerFd = nil
	}
	markerErr = nil
}

// Enabled reports whether the kernel trace buffer is currently recording.
func Enabled() bool {
	mut.Lock()
	dir := root
	mut.Unlock()
	buf, err := os.ReadFile(filepath.Join(dir, tracingOnFile))
	if err != nil {
		return false
	}
	return len(buf) > 0 && buf[0] == '1'
}

// Begin opens a trace slice with the given label. Pair with End. Both are
// no-ops when the marker file is unavailable.
func Begin(label string) {
	writeMarker(fmt.Sprintf("B|%d|%s", os.Getpid(), label))
}

// End closes the most recently opened trace slice.
func End() {
	writeMarker(fmt.Sprintf("E|%d", os.Getpid()))
}

func writeMarker(s string) {
	mut.Lock()
	defer mut.Unlock()
	if markerFd == nil && markerErr == nil {
		markerFd, markerErr = os.OpenFile(filepath.Join(root, traceMarkerFile), os.O_WRONLY, 0)
		if markerErr != nil {
			l.Debugln("Opening trace marker:", markerErr)
		}
	}
	if markerFd == nil {
		return
	}
	if _, err := markerFd.WriteString(s); err != nil {
		l.Debugln("Writing trace marker:", err)
	}
}
