// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"bytes"
	"strconv"

	"github.com/incload/incload/lib/incfs"
)

// MetadataMode is the first byte of each file's install metadata and
// selects where the file's bytes come from.
type MetadataMode int8

const (
	// ModeStdin consumes the install's piped input as the file body,
	// waiting out temporary EOFs while the pipe is still being filled.
	ModeStdin MetadataMode = iota
	// ModeLocalFile reads a staged file, with an optional .idsig sidecar
	// for the verity tree.
	ModeLocalFile
	// ModeDataOnlyStreaming takes the verity tree from the pipe and the
	// data blocks from the streaming channel.
	ModeDataOnlyStreaming
	// ModeStreaming takes everything from the streaming channel.
	ModeStreaming
)

// A streaming file's id carries the mode in byte zero and the decimal file
// index in the remaining bytes. FileIdFromIndex and FileIndexFromId are
// inverses over the whole int16 range.

func FileIdFromIndex(mode MetadataMode, fileIdx int16) incfs.FileId {
	var id incfs.FileId
	id[0] = byte(mode)
	copy(id[1:], strconv.Itoa(int(fileIdx)))
	return id
}

// FileIndexFromId recovers the file index, or -1 for ids that do not belong
// to a streaming install.
func FileIndexFromId(id incfs.FileId) int16 {
	mode := MetadataMode(id[0])
	if mode != ModeDataOnlyStreaming && mode != ModeStreaming {
		return -1
	}

	digits := id[1:]
	if i := bytes.IndexByte(digits, 0); i >= 0 {
		digits = digits[:i]
	}
	fileIdx, err := strconv.Atoi(string(digits))
	if err != nil || fileIdx < -32768 || fileIdx > 32767 {
		return -1
	}
	return int16(fileIdx)
}
