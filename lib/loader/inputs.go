// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"fmt"

	"github.com/incload/incload/lib/fdio"
	"github.com/incload/incload/lib/incfs"
	"github.com/incload/incload/lib/shell"
)

// inputDesc is one source of blocks for a file. The descriptor is owned by
// the inputDesc; closeInputs releases it. At most one input per file is
// streaming, and that one's descriptor gets duplicated into the streaming
// channel holder before the copy runs.
type inputDesc struct {
	fd        int
	size      int64
	kind      incfs.BlockKind
	waitOnEof bool
	streaming bool
	mode      MetadataMode
}

func closeInputs(inputs []inputDesc) {
	for _, in := range inputs {
		fdio.Close(in.fd)
	}
}

// openInputs resolves a file's metadata into its ordered list of inputs.
// An empty metadata blob means the piped input.
func (dl *DataLoader) openInputs(cmd shell.Command, size int64, metadata []byte) ([]inputDesc, error) {
	mode := ModeStdin
	if len(metadata) > 0 {
		mode = MetadataMode(metadata[0])
		metadata = metadata[1:]
	}
	if mode == ModeLocalFile {
		return dl.openLocalFile(cmd, size, string(metadata))
	}

	fd, err := cmd.Stdin()
	if err != nil {
		return nil, fmt.Errorf("opening piped input: %w", err)
	}

	switch mode {
	case ModeStdin:
		return []inputDesc{{
			fd:        fd,
			size:      size,
			kind:      incfs.BlockKindData,
			waitOnEof: true,
		}}, nil

	case ModeDataOnlyStreaming:
		// The verity tree arrives on the pipe up front, the data blocks
		// are served on demand later.
		return []inputDesc{{
			fd:        fd,
			size:      incfs.VerityTreeSize(size),
			kind:      incfs.BlockKindHash,
			waitOnEof: true,
			streaming: true,
			mode:      ModeDataOnlyStreaming,
		}}, nil

	case ModeStreaming:
		// A zero length input: nothing to copy, it only carries the
		// channel descriptor into the streaming handoff.
		return []inputDesc{{
			fd:        fd,
			size:      0,
			kind:      incfs.BlockKindData,
			streaming: true,
			mode:      ModeStreaming,
		}}, nil

	default:
		fdio.Close(fd)
		return nil, fmt.Errorf("unknown metadata mode %d", mode)
	}
}

// openLocalFile opens a staged file and, when present, its .idsig sidecar.
// The sidecar's declared tree size must match the computed one exactly.
func (dl *DataLoader) openLocalFile(cmd shell.Command, size int64, filePath string) ([]inputDesc, error) {
	var inputs []inputDesc

	idsigFd, err := cmd.LocalFile(filePath + ".idsig")
	if err == nil {
		treeSize := incfs.VerityTreeSize(size)
		actualTreeSize, err := skipIDSigHeaders(idsigFd)
		if err != nil {
			fdio.Close(idsigFd)
			return nil, fmt.Errorf("reading %s.idsig: %w", filePath, err)
		}
		if int64(actualTreeSize) != treeSize {
			fdio.Close(idsigFd)
			return nil, fmt.Errorf("verity tree size mismatch: %d vs .idsig: %d", treeSize, actualTreeSize)
		}
		inputs = append(inputs, inputDesc{
			fd:   idsigFd,
			size: treeSize,
			kind: incfs.BlockKindHash,
		})
	}

	fileFd, err := cmd.LocalFile(filePath)
	if err != nil {
		closeInputs(inputs)
		return nil, fmt.Errorf("opening %s: %w", filePath, err)
	}
	inputs = append(inputs, inputDesc{
		fd:   fileFd,
		size: size,
		kind: incfs.BlockKindData,
	})

	return inputs, nil
}
