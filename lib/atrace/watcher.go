// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package atrace

import (
	"time"

	"github.com/incload/incload/lib/sync"
)

// TagCheckInterval is how often the watcher re-reads the ambient trace
// state.
const TagCheckInterval = time.Second

// A Listener is told when the ambient trace state flips.
type Listener interface {
	TraceChanged(enabled bool)
}

// There is exactly one watcher per process. Tracing is a host-global
// property; a poller per loader would just burn threads on reading the same
// file.
var defaultWatcher = &watcher{
	mut:       sync.NewMutex(),
	listeners: make(map[Listener]struct{}),
}

type watcher struct {
	mut       sync.Mutex
	listeners map[Listener]struct{}
	stop      chan struct{}
	done      chan struct{}
}

// Register subscribes the listener to trace state changes, starting the
// watcher on first use.
func Register(lst Listener) {
	defaultWatcher.register(lst)
}

// Unregister removes the listener. Safe to call for a listener that was
// never registered.
func Unregister(lst Listener) {
	defaultWatcher.unregister(lst)
}

// StopWatcher tears the process watcher down and waits for it. The next
// Register starts a fresh one.
func StopWatcher() {
	defaultWatcher.stopAndWait()
}

func (w *watcher) register(lst Listener) {
	w.mut.Lock()
	defer w.mut.Unlock()
	w.listeners[lst] = struct{}{}
	if w.stop == nil {
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		// The baseline is taken here, not in the goroutine, so a flip right
		// after Register returns is seen as a change.
		go w.loop(Enabled(), w.stop, w.done)
	}
}

func (w *watcher) unregister(lst Listener) {
	w.mut.Lock()
	defer w.mut.Unlock()
	delete(w.listeners, lst)
}

func (w *watcher) stopAndWait() {
	w.mut.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mut.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (w *watcher) loop(was bool, stop chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(TagCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		now := Enabled()
		if now == was {
			continue
		}
		l.Debugln("Trace state changed to", now)
		was = now

		w.mut.Lock()
		for lst := range w.listeners {
			lst.TraceChanged(now)
		}
		w.mut.Unlock()
	}
}
