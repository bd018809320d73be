// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package shell

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/incload/incload/lib/fdio"
)

// LocalCommand is a Command backed by the local filesystem and an optional
// piped input. Relative metadata paths resolve against the root directory.
type LocalCommand struct {
	root  string
	stdin *os.File
}

func NewLocalCommand(root string, stdin *os.File) *LocalCommand {
	return &LocalCommand{root: root, stdin: stdin}
}

func (c *LocalCommand) Stdin() (int, error) {
	if c.stdin == nil {
		return -1, ErrNotFound
	}
	return fdio.Dup(int(c.stdin.Fd()))
}

func (c *LocalCommand) LocalFile(path string) (int, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, ErrNotFound
	}
	return fd, nil
}
