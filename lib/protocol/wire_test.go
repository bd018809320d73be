// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func TestDecodeHeader(t *testing.T) {
	data := []byte{
		0x00, 0x07, // fileIdx 7
		0x01,                   // type
		0x00,                   // compression
		0x00, 0x00, 0x00, 0x05, // blockIdx 5
		0x10, 0x00, // blockSize 4096
		0xaa, 0xbb, // trailing payload
	}
	h, rest, err := DecodeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	want := BlockHeader{FileIdx: 7, Type: 1, Compression: 0, BlockIdx: 5, BlockSize: 4096}
	if h != want {
		t.Errorf("decoded %+v, expected %+v", h, want)
	}
	if !bytes.Equal(rest, []byte{0xaa, 0xbb}) {
		t.Errorf("rest == %x, expected aabb", rest)
	}

	if _, _, err := DecodeHeader(data[:9]); err == nil {
		t.Error("nine bytes should not decode")
	}
}

func TestSentinelDetection(t *testing.T) {
	// The sentinel is fileIdx -1 with everything else zero: 0xffff followed
	// by eight zero bytes on the wire.
	wire := append([]byte{0xff, 0xff}, make([]byte, 8)...)
	h, _, err := DecodeHeader(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsSentinel() {
		t.Errorf("%+v should be the sentinel", h)
	}
	if h.Valid() {
		t.Errorf("%+v should not be a valid block header", h)
	}

	// All zero bytes decode to fileIdx 0, which is not the sentinel.
	h, _, err = DecodeHeader(make([]byte, HeaderSize))
	if err != nil {
		t.Fatal(err)
	}
	if h.IsSentinel() {
		t.Errorf("%+v should not be the sentinel", h)
	}

	// Nor is fileIdx -1 with a nonzero field elsewhere.
	wire[9] = 1
	h, _, _ = DecodeHeader(wire)
	if h.IsSentinel() {
		t.Errorf("%+v should not be the sentinel", h)
	}
}

func TestHeaderValid(t *testing.T) {
	cases := []struct {
		h     BlockHeader
		valid bool
	}{
		{BlockHeader{FileIdx: 0, Type: 0, Compression: 0, BlockIdx: 0, BlockSize: 1}, true},
		{BlockHeader{FileIdx: 7, BlockIdx: 5, BlockSize: 4096}, true},
		{BlockHeader{FileIdx: -2, BlockSize: 4}, false},
		{BlockHeader{FileIdx: 1, BlockSize: 0}, false},
		{BlockHeader{FileIdx: 1, BlockSize: -1}, false},
		{BlockHeader{FileIdx: 1, Type: -1, BlockSize: 4}, false},
		{BlockHeader{FileIdx: 1, Compression: -1, BlockSize: 4}, false},
		{BlockHeader{FileIdx: 1, BlockIdx: -1, BlockSize: 4}, false},
	}
	for _, tc := range cases {
		if got := tc.h.Valid(); got != tc.valid {
			t.Errorf("Valid(%+v) == %v, expected %v", tc.h, got, tc.valid)
		}
	}
}

func TestEncodeRequest(t *testing.T) {
	// The magic reads "INCR" off the wire; the other fields travel
	// big-endian.
	cases := []struct {
		typ      RequestType
		fileIdx  int16
		blockIdx int32
		wire     []byte
	}{
		{RequestExit, -1, -1, []byte{'I', 'N', 'C', 'R', 0x00, 0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{RequestBlockMissing, 7, 5, []byte{'I', 'N', 'C', 'R', 0x00, 0x01, 0x00, 0x07, 0x00, 0x00, 0x00, 0x05}},
		{RequestPrefetch, 0x1234, 0x01020304, []byte{'I', 'N', 'C', 'R', 0x00, 0x02, 0x12, 0x34, 0x01, 0x02, 0x03, 0x04}},
	}
	for _, tc := range cases {
		got := EncodeRequest(nil, tc.typ, tc.fileIdx, tc.blockIdx)
		if !bytes.Equal(got, tc.wire) {
			t.Errorf("EncodeRequest(%v, %d, %d) == %x, expected %x", tc.typ, tc.fileIdx, tc.blockIdx, got, tc.wire)
		}
		if len(got) != CommandSize {
			t.Errorf("command is %d bytes, expected %d", len(got), CommandSize)
		}
	}
}

func TestSendRequest(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if err := SendRequest(int(w.Fd()), RequestBlockMissing, 3, 9); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, CommandSize)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	want := EncodeRequest(nil, RequestBlockMissing, 3, 9)
	if !bytes.Equal(buf, want) {
		t.Errorf("read %x, expected %x", buf, want)
	}
}

func TestReadChunk(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	payload := []byte("fourteen bytes")
	var msg []byte
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(payload)))
	msg = append(msg, payload...)
	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}

	var data []byte
	if err := ReadChunk(int(r.Fd()), &data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("read %q, expected %q", data, payload)
	}
}

func TestReadChunkBadLength(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if _, err := w.Write(make([]byte, 4)); err != nil { // length zero
		t.Fatal(err)
	}
	var data []byte
	if err := ReadChunk(int(r.Fd()), &data); err == nil {
		t.Error("zero length chunk should not read")
	}
}

func TestReadChunkShort(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var msg []byte
	msg = binary.BigEndian.AppendUint32(msg, 100)
	msg = append(msg, []byte("not a hundred bytes")...)
	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var data []byte
	if err := ReadChunk(int(r.Fd()), &data); err == nil {
		t.Error("truncated chunk should not read")
	}
}

func TestReadHandshake(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if _, err := w.Write([]byte(Okay)); err != nil {
		t.Fatal(err)
	}
	if err := ReadHandshake(int(r.Fd())); err != nil {
		t.Errorf("handshake should pass: %v", err)
	}

	if _, err := w.Write([]byte("NOPE")); err != nil {
		t.Fatal(err)
	}
	if err := ReadHandshake(int(r.Fd())); err == nil {
		t.Error("bad handshake should fail")
	}
}
