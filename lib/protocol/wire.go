// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package protocol implements the block streaming wire format: inbound
// length-prefixed chunks of block records, outbound fixed-size request
// commands.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/incload/incload/lib/fdio"
)

const (
	// HeaderSize is the wire size of a block header.
	HeaderSize = 2 + 1 + 1 + 4 + 2

	// CommandSize is the wire size of a request command.
	CommandSize = 4 + 2 + 2 + 4

	// Magic starts every outbound request command: "INCR" when read off the
	// wire byte by byte.
	Magic = 0x52434e49
)

// Okay is the handshake the remote side sends before streaming begins.
const Okay = "OKAY"

// RequestType is the kind of an outbound request command.
type RequestType int16

const (
	RequestExit         RequestType = 0
	RequestBlockMissing RequestType = 1
	RequestPrefetch     RequestType = 2
)

func (t RequestType) String() string {
	switch t {
	case RequestExit:
		return "exit"
	case RequestBlockMissing:
		return "block_missing"
	case RequestPrefetch:
		return "prefetch"
	default:
		return fmt.Sprintf("unknown(%d)", int16(t))
	}
}

var (
	errShortHeader  = errors.New("truncated block header")
	errInvalidChunk = errors.New("invalid chunk length")
)

// BlockHeader precedes each block payload inside a chunk.
type BlockHeader struct {
	FileIdx     int16
	Type        int8
	Compression int8
	BlockIdx    int32
	BlockSize   int16
}

// DecodeHeader pulls one header off the front of data and returns the rest.
func DecodeHeader(data []byte) (BlockHeader, []byte, error) {
	if len(data) < HeaderSize {
		return BlockHeader{}, nil, errShortHeader
	}
	h := BlockHeader{
		FileIdx:     int16(binary.BigEndian.Uint16(data[0:])),
		Type:        int8(data[2]),
		Compression: int8(data[3]),
		BlockIdx:    int32(binary.BigEndian.Uint32(data[4:])),
		BlockSize:   int16(binary.BigEndian.Uint16(data[8:])),
	}
	return h, data[HeaderSize:], nil
}

// IsSentinel reports whether the header is the shutdown marker: fileIdx -1
// with every other field zero. The comparison runs on the decoded fields, not
// the raw bytes; the -1 makes the two representations differ.
func (h BlockHeader) IsSentinel() bool {
	return h.FileIdx == -1 && h.Type == 0 && h.Compression == 0 && h.BlockIdx == 0 && h.BlockSize == 0
}

// Valid reports whether the header describes a deliverable block.
func (h BlockHeader) Valid() bool {
	return h.FileIdx >= 0 && h.BlockSize > 0 && h.Type >= 0 && h.Compression >= 0 && h.BlockIdx >= 0
}

// EncodeRequest appends one request command to dst. The magic travels in
// little-endian order while the integer fields travel big-endian; the
// receiving side depends on exactly this asymmetric layout, so it stays.
func EncodeRequest(dst []byte, typ RequestType, fileIdx int16, blockIdx int32) []byte {
	var buf [CommandSize]byte
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.BigEndian.PutUint16(buf[4:], uint16(typ))
	binary.BigEndian.PutUint16(buf[6:], uint16(fileIdx))
	binary.BigEndian.PutUint32(buf[8:], uint32(blockIdx))
	return append(dst, buf[:]...)
}

// SendRequest writes one request command to fd. A short or failed write is
// terminal for the session; the caller decides what that means.
func SendRequest(fd int, typ RequestType, fileIdx int16, blockIdx int32) error {
	cmd := EncodeRequest(nil, typ, fileIdx, blockIdx)
	if err := fdio.WriteFull(fd, cmd); err != nil {
		return fmt.Errorf("sending %v request: %w", typ, err)
	}
	metricRequestsSent.WithLabelValues(typ.String()).Inc()
	return nil
}

// ReadChunk reads one length-prefixed chunk into *data, reusing its backing
// array when large enough. A short read or a non-positive length means the
// stream is done for.
func ReadChunk(fd int, data *[]byte) error {
	var lenBuf [4]byte
	if err := fdio.ReadFull(fd, lenBuf[:]); err != nil {
		return err
	}
	size := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if size <= 0 {
		return errInvalidChunk
	}
	if cap(*data) < int(size) {
		*data = make([]byte, size)
	} else {
		*data = (*data)[:size]
	}
	if err := fdio.ReadFull(fd, *data); err != nil {
		return err
	}
	metricChunksReceived.Inc()
	metricChunkBytesReceived.Add(float64(size))
	return nil
}

// ReadHandshake consumes the handshake bytes off the channel and checks them.
func ReadHandshake(fd int) error {
	var buf [len(Okay)]byte
	if err := fdio.ReadFull(fd, buf[:]); err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if string(buf[:]) != Okay {
		return fmt.Errorf("bad handshake %q, expected %q", buf[:], Okay)
	}
	return nil
}
