// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package incfs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestDirConnector(t *testing.T) {
	root := t.TempDir()
	c := NewDirConnector(root)
	defer c.Close()

	id := FileId{1}
	if _, err := c.OpenForSpecialOps(id); err == nil {
		t.Fatal("unregistered ids should not open")
	}

	c.Register(id, "out.pkg")
	fd, err := c.OpenForSpecialOps(id)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	blockA := bytes.Repeat([]byte{'a'}, DataFileBlockSize)
	blockC := bytes.Repeat([]byte{'c'}, 10)
	hash := bytes.Repeat([]byte{'h'}, DataFileBlockSize)
	n, err := c.WriteBlocks([]DataBlock{
		{FileFd: fd, PageIndex: 0, Kind: BlockKindData, Data: blockA},
		{FileFd: fd, PageIndex: 2, Kind: BlockKindData, Data: blockC},
		{FileFd: fd, PageIndex: 0, Kind: BlockKindHash, Data: hash},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("wrote %d blocks, expected 3", n)
	}

	out, err := os.ReadFile(filepath.Join(root, "out.pkg"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2*DataFileBlockSize+10 {
		t.Fatalf("file is %d bytes", len(out))
	}
	if !bytes.Equal(out[:DataFileBlockSize], blockA) {
		t.Error("page 0 not written")
	}
	if !bytes.Equal(out[2*DataFileBlockSize:], blockC) {
		t.Error("page 2 not written")
	}

	tree, err := os.ReadFile(filepath.Join(root, "out.pkg.vtree"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tree, hash) {
		t.Error("hash sidecar not written")
	}
}

func TestDirConnectorParams(t *testing.T) {
	c := NewDirConnector(t.TempDir())
	defer c.Close()
	if c.ReadLogsEnabled() {
		t.Error("read logs start out disabled")
	}
	if err := c.SetParams(Params{ReadLogsEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if !c.ReadLogsEnabled() {
		t.Error("read logs should be enabled")
	}
}
