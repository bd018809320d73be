// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"fmt"
	"time"

	"github.com/incload/incload/lib/fdio"
	"github.com/incload/incload/lib/incfs"
)

const (
	bufferSize  = 256 * 1024
	blocksCount = bufferSize / incfs.DataFileBlockSize

	// How long to sit out a dry pipe that is still being filled.
	eofRetryInterval = 10 * time.Millisecond
)

// assembler copies bytes from input descriptors into the filesystem in
// block-sized batches. The buffer and the instruction list are reused across
// inputs and files.
type assembler struct {
	ifs    incfs.Connector
	buf    []byte
	blocks []incfs.DataBlock
}

func newAssembler(ifs incfs.Connector) *assembler {
	return &assembler{
		ifs:    ifs,
		buf:    make([]byte, 0, bufferSize),
		blocks: make([]incfs.DataBlock, 0, blocksCount),
	}
}

// copyToFS moves size bytes from srcFd into fsFd as blocks of the given
// kind. Page indices start at zero and are assigned in order; only the very
// last block of the input may be short. With waitOnEof a zero read means
// the writer is not done yet, so retry, otherwise it ends the copy.
func (a *assembler) copyToFS(fsFd int, size int64, kind incfs.BlockKind, srcFd int, waitOnEof bool) error {
	remaining := size
	var total int64
	var blockIdx int32
	for remaining > 0 {
		free := bufferSize - len(a.buf)
		if free < incfs.DataFileBlockSize {
			if err := a.flush(fsFd, kind, false, &blockIdx); err != nil {
				return err
			}
			continue
		}

		toRead := min(remaining, int64(free))
		cur := len(a.buf)
		n, err := fdio.Read(srcFd, a.buf[cur:cur+int(toRead)])
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if n == 0 {
			if waitOnEof {
				l.Debugf("Input dry at %d bytes, %d remaining, block %d; waiting", total, remaining, blockIdx)
				time.Sleep(eofRetryInterval)
				continue
			}
			break
		}

		a.buf = a.buf[:cur+n]
		remaining -= int64(n)
		total += int64(n)
	}

	if len(a.buf) > 0 {
		return a.flush(fsFd, kind, true, &blockIdx)
	}
	return nil
}

// flush turns the buffered bytes into write instructions and commits them.
// Anything short of a full block stays buffered, except at eof where the
// remainder goes out as the one short block of the input.
func (a *assembler) flush(fsFd int, kind incfs.BlockKind, eof bool, blockIdx *int32) error {
	consumed := 0
	fullBlocks := len(a.buf) / incfs.DataFileBlockSize
	for i := 0; i < fullBlocks; i++ {
		a.blocks = append(a.blocks, incfs.DataBlock{
			FileFd:      fsFd,
			PageIndex:   *blockIdx,
			Compression: incfs.CompressionNone,
			Kind:        kind,
			Data:        a.buf[consumed : consumed+incfs.DataFileBlockSize],
		})
		*blockIdx++
		consumed += incfs.DataFileBlockSize
	}
	if remain := len(a.buf) - consumed; remain > 0 && eof {
		a.blocks = append(a.blocks, incfs.DataBlock{
			FileFd:      fsFd,
			PageIndex:   *blockIdx,
			Compression: incfs.CompressionNone,
			Kind:        kind,
			Data:        a.buf[consumed:],
		})
		*blockIdx++
		consumed += remain
	}

	wrote, err := a.ifs.WriteBlocks(a.blocks)
	count := len(a.blocks)
	a.blocks = a.blocks[:0]
	a.buf = append(a.buf[:0], a.buf[consumed:]...)

	if err != nil {
		return fmt.Errorf("writing blocks: %w", err)
	}
	if wrote != count {
		return fmt.Errorf("wrote %d blocks, expected %d", wrote, count)
	}
	metricBlocksWritten.WithLabelValues(kind.String()).Add(float64(count))
	metricBytesWritten.Add(float64(consumed))
	return nil
}
