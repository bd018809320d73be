// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	stdsync "sync"

	"golang.org/x/sys/unix"

	"github.com/incload/incload/lib/incfs"
)

// fakeConnector records every block write. Descriptors it hands out are
// plain numbers well above anything the process has open, so the loader
// closing them is harmless.
type fakeConnector struct {
	mut    stdsync.Mutex
	nextFd int
	opened map[int]incfs.FileId
	blocks []writtenBlock
	params []incfs.Params

	failWrites bool
	shortBy    int
}

type writtenBlock struct {
	Fd          int
	PageIndex   int32
	Kind        incfs.BlockKind
	Compression incfs.CompressionKind
	Data        []byte
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		nextFd: 1 << 20,
		opened: make(map[int]incfs.FileId),
	}
}

func (c *fakeConnector) OpenForSpecialOps(id incfs.FileId) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	fd := c.nextFd
	c.nextFd++
	c.opened[fd] = id
	return fd, nil
}

func (c *fakeConnector) WriteBlocks(blocks []incfs.DataBlock) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.failWrites {
		return 0, unix.EIO
	}
	count := len(blocks)
	if c.shortBy > 0 {
		count = max(0, count-c.shortBy)
	}
	for _, b := range blocks[:count] {
		data := make([]byte, len(b.Data))
		copy(data, b.Data)
		c.blocks = append(c.blocks, writtenBlock{
			Fd:          b.FileFd,
			PageIndex:   b.PageIndex,
			Kind:        b.Kind,
			Compression: b.Compression,
			Data:        data,
		})
	}
	return count, nil
}

func (c *fakeConnector) SetParams(params incfs.Params) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.params = append(c.params, params)
	return nil
}

func (c *fakeConnector) written() []writtenBlock {
	c.mut.Lock()
	defer c.mut.Unlock()
	return append([]writtenBlock(nil), c.blocks...)
}

// fakeStatus records reported statuses.
type fakeStatus struct {
	mut      stdsync.Mutex
	statuses []Status
}

func (s *fakeStatus) ReportStatus(status Status) {
	s.mut.Lock()
	s.statuses = append(s.statuses, status)
	s.mut.Unlock()
}

func (s *fakeStatus) reported() []Status {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]Status(nil), s.statuses...)
}
