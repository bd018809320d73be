// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package incfs

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/incload/incload/lib/sync"
)

// DirConnector materializes block writes into plain files under a root
// directory: data blocks go into the file itself, hash blocks into a .vtree
// sibling. It stands in for a real incremental mount when developing or
// driving the loader from the command line.
type DirConnector struct {
	mut     sync.Mutex
	root    string
	names   map[FileId]string
	paths   map[int]string // open data fd => path
	hashFds map[int]int    // data fd => .vtree fd
	params  Params
}

func NewDirConnector(root string) *DirConnector {
	return &DirConnector{
		mut:     sync.NewMutex(),
		root:    root,
		names:   make(map[FileId]string),
		paths:   make(map[int]string),
		hashFds: make(map[int]int),
	}
}

// Register maps a file id to its name under the root. Must happen before
// the loader opens the file.
func (c *DirConnector) Register(id FileId, name string) {
	c.mut.Lock()
	c.names[id] = name
	c.mut.Unlock()
}

func (c *DirConnector) OpenForSpecialOps(id FileId) (int, error) {
	c.mut.Lock()
	name, ok := c.names[id]
	c.mut.Unlock()
	if !ok {
		return -1, fmt.Errorf("no file registered for id %v", id)
	}
	path := filepath.Join(c.root, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return -1, fmt.Errorf("opening %s: %w", path, err)
	}
	c.mut.Lock()
	c.paths[fd] = path
	c.mut.Unlock()
	return fd, nil
}

func (c *DirConnector) WriteBlocks(blocks []DataBlock) (int, error) {
	written := 0
	for _, b := range blocks {
		fd := b.FileFd
		if b.Kind == BlockKindHash {
			var err error
			if fd, err = c.hashFd(b.FileFd); err != nil {
				return written, err
			}
		}
		if _, err := unix.Pwrite(fd, b.Data, int64(b.PageIndex)*DataFileBlockSize); err != nil {
			return written, fmt.Errorf("writing block %d: %w", b.PageIndex, err)
		}
		written++
	}
	return written, nil
}

func (c *DirConnector) hashFd(dataFd int) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if fd, ok := c.hashFds[dataFd]; ok {
		return fd, nil
	}
	path, ok := c.paths[dataFd]
	if !ok {
		return -1, fmt.Errorf("unknown descriptor %d", dataFd)
	}
	fd, err := unix.Open(path+".vtree", unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return -1, err
	}
	c.hashFds[dataFd] = fd
	return fd, nil
}

func (c *DirConnector) SetParams(params Params) error {
	c.mut.Lock()
	c.params = params
	c.mut.Unlock()
	return nil
}

// ReadLogsEnabled returns the last parameter state set by the loader.
func (c *DirConnector) ReadLogsEnabled() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.params.ReadLogsEnabled
}

// Close releases the hash sidecar descriptors the connector opened on its
// own. Data descriptors belong to whoever opened them.
func (c *DirConnector) Close() {
	c.mut.Lock()
	defer c.mut.Unlock()
	for _, fd := range c.hashFds {
		unix.Close(fd)
	}
	c.hashFds = make(map[int]int)
	c.paths = make(map[int]string)
}
