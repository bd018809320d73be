// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/incload/incload/lib/fdio"
)

// The .idsig preamble: version, hashing info, signing info, each
// little-endian and length-prefixed where variable, then the verity tree
// size. The loader checks the tree size and cares about nothing else; the
// rest of the descriptor is the tree itself.

func readLEInt32(fd int) (int32, error) {
	var buf [4]byte
	if err := fdio.ReadFull(fd, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func skipSizedBytes(fd int) error {
	size, err := readLEInt32(fd)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("negative field length %d", size)
	}
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	return fdio.ReadFull(fd, buf)
}

// skipIDSigHeaders consumes the preamble and returns the declared verity
// tree size, leaving the descriptor positioned at the start of the tree.
func skipIDSigHeaders(fd int) (int32, error) {
	if _, err := readLEInt32(fd); err != nil { // version
		return 0, err
	}
	if err := skipSizedBytes(fd); err != nil { // hashingInfo
		return 0, err
	}
	if err := skipSizedBytes(fd); err != nil { // signingInfo
		return 0, err
	}
	return readLEInt32(fd)
}
