// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/incload/incload/lib/fdio"
	"github.com/incload/incload/lib/incfs"
	"github.com/incload/incload/lib/protocol"
)

const pollTimeoutMs = 5000

type pollResult int

const (
	pollTimeout pollResult = iota
	pollData
	pollSignal
)

// initStreaming takes ownership of the channel descriptor, performs the
// handshake and starts the receiver. The outbound half is a duplicate of the
// same channel, held under outMut for the request senders.
func (dl *DataLoader) initStreaming(channelFd int, mode MetadataMode) error {
	eventFd, err := fdio.NewEventFD()
	if err != nil {
		fdio.Close(channelFd)
		return fmt.Errorf("creating event fd: %w", err)
	}

	if err := protocol.ReadHandshake(channelFd); err != nil {
		eventFd.Close()
		fdio.Close(channelFd)
		return err
	}

	dl.outMut.Lock()
	if dl.outFd, err = fdio.Dup(channelFd); err != nil {
		// Requests will not go out, but inbound blocks still flow.
		l.Warnln("Duplicating streaming fd:", err)
		dl.outFd = -1
	}
	dl.outMut.Unlock()

	dl.eventFd = eventFd
	dl.stopReceiving.Store(false)
	dl.receiverDone = make(chan struct{})
	go dl.receiver(channelFd, mode)

	l.Infoln("Started streaming")
	return nil
}

// waitForDataOrSignal polls the channel against the stop wakeup. EINTR is
// retried; the Go runtime interrupts system calls at will.
func waitForDataOrSignal(fd, eventFd int) (pollResult, error) {
	for {
		pfds := [2]unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(eventFd), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfds[:], pollTimeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return pollTimeout, nil
		}
		// The stop signal wins over pending data.
		if pfds[1].Revents&unix.POLLIN != 0 {
			return pollSignal, nil
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			return pollData, nil
		}
		return 0, fmt.Errorf("unexpected poll events %x/%x", pfds[0].Revents, pfds[1].Revents)
	}
}

// receiver is the streaming loop. It owns the channel descriptor and runs
// until stopped or until the stream turns terminal, committing each chunk's
// blocks as one batch.
func (dl *DataLoader) receiver(channelFd int, mode MetadataMode) {
	defer close(dl.receiverDone)

	var data []byte
	var instructions []incfs.DataBlock
	writeFds := make(map[int16]int)
	defer func() {
		for _, fd := range writeFds {
			fdio.Close(fd)
		}

		dl.outMut.Lock()
		fdio.Close(dl.outFd)
		dl.outFd = -1
		dl.outMut.Unlock()

		fdio.Close(channelFd)
	}()

	for !dl.stopReceiving.Load() {
		res, err := waitForDataOrSignal(channelFd, dl.eventFd.FD())
		if err != nil {
			l.Warnln("Polling streaming channel:", err)
			dl.status.ReportStatus(StatusUnrecoverable)
			break
		}
		if res == pollTimeout {
			continue
		}
		if res == pollSignal {
			l.Infoln("Received stop signal, sending exit to server")
			protocol.SendRequest(channelFd, protocol.RequestExit, -1, -1)
			break
		}

		if err := protocol.ReadChunk(channelFd, &data); err != nil {
			l.Warnln("Reading chunk:", err)
			dl.status.ReportStatus(StatusUnrecoverable)
			break
		}

		remaining := data
		for len(remaining) > 0 {
			header, rest, err := protocol.DecodeHeader(remaining)
			if err != nil {
				l.Warnln("Decoding block header:", err)
				dl.stopReceiving.Store(true)
				break
			}
			remaining = rest

			if header.IsSentinel() {
				l.Infof("Stream done, sending exit (%d bytes left over)", len(remaining))
				protocol.SendRequest(channelFd, protocol.RequestExit, -1, -1)
				dl.stopReceiving.Store(true)
				break
			}
			if !header.Valid() || int(header.BlockSize) > len(remaining) {
				l.Warnf("Invalid block header %+v", header)
				dl.stopReceiving.Store(true)
				break
			}

			fileId := FileIdFromIndex(mode, header.FileIdx)
			if !fileId.Valid() {
				l.Warnf("Unknown data destination for file %d, ignoring", header.FileIdx)
				remaining = remaining[header.BlockSize:]
				continue
			}

			writeFd, ok := writeFds[header.FileIdx]
			if !ok {
				if writeFd, err = dl.ifs.OpenForSpecialOps(fileId); err != nil {
					l.Warnf("Opening file %d for writing: %v", header.FileIdx, err)
					break
				}
				writeFds[header.FileIdx] = writeFd
			}

			instructions = append(instructions, incfs.DataBlock{
				FileFd:      writeFd,
				PageIndex:   header.BlockIdx,
				Compression: incfs.CompressionKind(header.Compression),
				Kind:        incfs.BlockKind(header.Type),
				Data:        remaining[:header.BlockSize],
			})
			remaining = remaining[header.BlockSize:]
		}
		instructions = dl.writeInstructions(instructions)
	}
	dl.writeInstructions(instructions)
}

// writeInstructions commits the pending blocks as one batch and resets the
// list, keeping its backing array.
func (dl *DataLoader) writeInstructions(instructions []incfs.DataBlock) []incfs.DataBlock {
	if len(instructions) == 0 {
		return instructions
	}
	wrote, err := dl.ifs.WriteBlocks(instructions)
	if err != nil {
		l.Warnln("Writing blocks to filesystem:", err)
	} else if wrote != len(instructions) {
		l.Warnf("Wrote %d blocks to filesystem, expected %d", wrote, len(instructions))
	} else {
		metricBlocksStreamed.Add(float64(wrote))
	}
	return instructions[:0]
}
