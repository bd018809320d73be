// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package incfs

import "testing"

// naiveTreeSize is the definition: sum the block counts of each tree level,
// starting from the file's block count, until a level fits in one block.
func naiveTreeSize(fileSize int64) int64 {
	if fileSize <= 0 {
		return 0
	}
	blocks := (fileSize + DataFileBlockSize - 1) / DataFileBlockSize
	var sum int64
	for blocks > 1 {
		blocks = (blocks + hashesPerBlock - 1) / hashesPerBlock
		sum += blocks
	}
	return sum * DataFileBlockSize
}

func TestVerityTreeSize(t *testing.T) {
	cases := []struct {
		fileSize int64
		treeSize int64
	}{
		{0, 0},
		{1, 0},
		{4096, 0},
		{4097, 4096},
		{8192, 4096},
		{128 * 4096, 4096},
		{129 * 4096, 3 * 4096},
		{128 * 128 * 4096, 129 * 4096},
	}
	for _, tc := range cases {
		if got := VerityTreeSize(tc.fileSize); got != tc.treeSize {
			t.Errorf("VerityTreeSize(%d) == %d, expected %d", tc.fileSize, got, tc.treeSize)
		}
	}
}

func TestVerityTreeSizeMatchesDefinition(t *testing.T) {
	sizes := []int64{0, 1, 100, 4095, 4096, 4097, 1 << 20, 1<<20 + 1, 1 << 30, 1<<33 + 12345}
	for _, size := range sizes {
		if got, want := VerityTreeSize(size), naiveTreeSize(size); got != want {
			t.Errorf("VerityTreeSize(%d) == %d, definition says %d", size, got, want)
		}
	}
}

func TestFileIdValid(t *testing.T) {
	if InvalidFileId.Valid() {
		t.Error("InvalidFileId should not be valid")
	}
	var zero FileId
	if !zero.Valid() {
		t.Error("the zero id is a legitimate id")
	}
	id := FileId{3, '4', '2'}
	if !id.Valid() {
		t.Error("ordinary ids should be valid")
	}
}
