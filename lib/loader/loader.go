// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package loader feeds an incremental filesystem with the blocks of a
// package being installed. Inputs are staged local files, a one-shot piped
// stream, or a bidirectional channel the loader serves page faults over.
package loader

import (
	"fmt"
	"sync/atomic"

	"github.com/incload/incload/lib/atrace"
	"github.com/incload/incload/lib/fdio"
	"github.com/incload/incload/lib/incfs"
	"github.com/incload/incload/lib/protocol"
	"github.com/incload/incload/lib/shell"
	"github.com/incload/incload/lib/sync"
)

// Type is the kind of install the loader is asked to back.
type Type int32

const (
	TypeNone Type = iota
	TypeStreaming
	TypeIncremental
)

// Status values reported to the status listener.
type Status int32

const (
	StatusCreated Status = iota
	StatusDestroyed
	StatusStarted
	StatusStopped
	StatusImageReady
	StatusImageNotReady
	StatusUnavailable
	StatusUnrecoverable
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDestroyed:
		return "destroyed"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusImageReady:
		return "image ready"
	case StatusImageNotReady:
		return "image not ready"
	case StatusUnavailable:
		return "unavailable"
	case StatusUnrecoverable:
		return "unrecoverable"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// StatusListener receives install session status changes.
type StatusListener interface {
	ReportStatus(status Status)
}

// Params describe one install session.
type Params struct {
	Type      Type
	Arguments string
}

// InstallationFile is one file of the install set.
type InstallationFile struct {
	Name     string
	Size     int64
	Metadata []byte
	Id       incfs.FileId
}

// DataLoader is one install session's loader. Callbacks arrive on the
// filesystem's threads; OnPrepareImage runs on the caller's.
type DataLoader struct {
	args     string
	ifs      incfs.Connector
	status   StatusListener
	resolver shell.Resolver

	// The outbound half of the streaming channel, guarded against
	// concurrent request senders. -1 when streaming is not up.
	outMut sync.Mutex
	outFd  int

	eventFd       *fdio.EventFD
	receiverDone  chan struct{}
	stopReceiving atomic.Bool

	readLogsEnabled atomic.Bool

	// Files a prefetch has been sent for. Only touched under outMut.
	requestedFiles map[int16]struct{}
}

// New creates a loader for the given install. Only incremental installs are
// supported; anything else is refused here.
func New(params Params, ifs incfs.Connector, status StatusListener, resolver shell.Resolver) (*DataLoader, error) {
	if params.Type != TypeIncremental {
		return nil, fmt.Errorf("unsupported data loader type %d", params.Type)
	}
	if ifs == nil || status == nil || resolver == nil {
		return nil, fmt.Errorf("missing collaborator")
	}
	dl := &DataLoader{
		args:           params.Arguments,
		ifs:            ifs,
		status:         status,
		resolver:       resolver,
		outMut:         sync.NewMutex(),
		outFd:          -1,
		requestedFiles: make(map[int16]struct{}),
	}
	return dl, nil
}

// OnCreate hooks the loader up to the ambient trace state.
func (dl *DataLoader) OnCreate() error {
	dl.updateReadLogsState(atrace.Enabled())
	atrace.Register(dl)
	return nil
}

func (dl *DataLoader) OnStart() error {
	return nil
}

// OnStop signals the receiver and waits for it. The receiver observes the
// wakeup within one poll interval even when the channel is silent; a
// receiver that is still running answers it by sending the exit command.
func (dl *DataLoader) OnStop() {
	if dl.eventFd != nil {
		if err := dl.eventFd.Signal(); err != nil {
			l.Warnln("Signaling receiver stop:", err)
		}
	}
	if dl.receiverDone != nil {
		<-dl.receiverDone
		dl.receiverDone = nil
	}
	if dl.eventFd != nil {
		dl.eventFd.Close()
		dl.eventFd = nil
	}
}

func (dl *DataLoader) OnDestroy() {
	atrace.Unregister(dl)
}

// Streaming reports whether the receiver loop is up.
func (dl *DataLoader) Streaming() bool {
	return dl.receiverDone != nil
}

// Done returns a channel that closes when the receiver loop exits, or nil
// when streaming never started.
func (dl *DataLoader) Done() <-chan struct{} {
	return dl.receiverDone
}

// TraceChanged implements atrace.Listener.
func (dl *DataLoader) TraceChanged(enabled bool) {
	dl.updateReadLogsState(enabled)
}

func (dl *DataLoader) updateReadLogsState(enabled bool) {
	if enabled != dl.readLogsEnabled.Swap(enabled) {
		if err := dl.ifs.SetParams(incfs.Params{ReadLogsEnabled: enabled}); err != nil {
			l.Warnln("Setting read logs state:", err)
		}
	}
}

// OnPrepareImage drives the whole install set: opens each file's inputs and
// copies them into the filesystem. If any input turns out to be streaming,
// its channel is handed to the streaming loop before returning. Preparation
// is all or nothing.
func (dl *DataLoader) OnPrepareImage(files []InstallationFile) error {
	l.Infoln("Preparing image")

	cmd, err := dl.resolver.LookupShellCommand(dl.args)
	if err != nil {
		return fmt.Errorf("resolving shell command: %w", err)
	}

	asm := newAssembler(dl.ifs)

	streamingFd := -1
	var streamingMode MetadataMode
	abort := func(err error) error {
		fdio.Close(streamingFd)
		return err
	}

	for _, file := range files {
		inputs, err := dl.openInputs(cmd, file.Size, file.Metadata)
		if err != nil {
			return abort(fmt.Errorf("opening inputs for %s: %w", file.Name, err))
		}

		fsFd, err := dl.ifs.OpenForSpecialOps(file.Id)
		if err != nil {
			closeInputs(inputs)
			return abort(fmt.Errorf("opening %s on the filesystem: %w", file.Name, err))
		}

		for _, input := range inputs {
			if input.streaming && streamingFd < 0 {
				if streamingFd, err = fdio.Dup(input.fd); err != nil {
					break
				}
				streamingMode = input.mode
			}
			if err = asm.copyToFS(fsFd, input.size, input.kind, input.fd, input.waitOnEof); err != nil {
				break
			}
		}
		closeInputs(inputs)
		fdio.Close(fsFd)
		if err != nil {
			return abort(fmt.Errorf("copying %s: %w", file.Name, err))
		}
	}

	if streamingFd >= 0 {
		l.Infoln("Prepared image, proceeding to streaming")
		if err := dl.initStreaming(streamingFd, streamingMode); err != nil {
			return err
		}
		return nil
	}

	l.Infoln("Prepared image")
	return nil
}

// OnPendingReads translates page faults into outbound requests: one advisory
// prefetch per file ever, plus a binding block-missing demand each time.
func (dl *DataLoader) OnPendingReads(reads []incfs.PendingRead) {
	dl.outMut.Lock()
	defer dl.outMut.Unlock()
	if dl.outFd < 0 {
		return
	}
	for _, pr := range reads {
		fileIdx := FileIndexFromId(pr.Id)
		if fileIdx < 0 {
			l.Warnf("Pending read for unknown file %v, ignoring", pr.Id)
			continue
		}
		if _, ok := dl.requestedFiles[fileIdx]; !ok {
			if err := protocol.SendRequest(dl.outFd, protocol.RequestPrefetch, fileIdx, pr.Block); err == nil {
				dl.requestedFiles[fileIdx] = struct{}{}
			} else {
				l.Debugln("Prefetch request failed, will retry on the next fault:", err)
			}
		}
		if err := protocol.SendRequest(dl.outFd, protocol.RequestBlockMissing, fileIdx, pr.Block); err != nil {
			l.Debugln("Block missing request failed:", err)
		}
	}
}

type tracedRead struct {
	timestampUs uint64
	id          incfs.FileId
	firstBlock  int32
	count       int64
}

// OnPageReads emits one trace record per run of consecutive reads of the
// same file.
func (dl *DataLoader) OnPageReads(reads []incfs.PageRead) {
	if !dl.readLogsEnabled.Load() {
		return
	}

	var last tracedRead
	for _, read := range reads {
		if read.Id != last.id || read.Block != last.firstBlock+int32(last.count) {
			traceRead(last)
			last = tracedRead{
				timestampUs: read.BootClockTsUs,
				id:          read.Id,
				firstBlock:  read.Block,
				count:       1,
			}
		} else {
			last.count++
		}
	}
	traceRead(last)
}

func traceRead(read tracedRead) {
	if read.count == 0 {
		return
	}
	fileIdx := FileIndexFromId(read.id)
	atrace.Begin(fmt.Sprintf("page_read: index=%d count=%d file=%d", read.firstBlock, read.count, fileIdx))
	atrace.End()
}
