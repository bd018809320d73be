// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package loader

import (
	"testing"
	"testing/quick"

	"github.com/incload/incload/lib/incfs"
)

func TestFileIdRoundTrip(t *testing.T) {
	for _, mode := range []MetadataMode{ModeDataOnlyStreaming, ModeStreaming} {
		f := func(fileIdx int16) bool {
			return FileIndexFromId(FileIdFromIndex(mode, fileIdx)) == fileIdx
		}
		if err := quick.Check(f, nil); err != nil {
			t.Errorf("mode %d: %v", mode, err)
		}
		// quick.Check is unlikely to hit the edges on its own.
		for _, fileIdx := range []int16{-32768, -1, 0, 1, 32767} {
			if got := FileIndexFromId(FileIdFromIndex(mode, fileIdx)); got != fileIdx {
				t.Errorf("mode %d: index %d round-tripped to %d", mode, fileIdx, got)
			}
		}
	}
}

func TestFileIndexFromIdRejectsNonStreaming(t *testing.T) {
	for _, mode := range []MetadataMode{ModeStdin, ModeLocalFile, 17} {
		id := FileIdFromIndex(mode, 42)
		if got := FileIndexFromId(id); got != -1 {
			t.Errorf("mode %d: expected -1, got %d", mode, got)
		}
	}
}

func TestFileIndexFromIdRejectsGarbage(t *testing.T) {
	id := incfs.FileId{byte(ModeStreaming), 'x', 'y', 'z'}
	if got := FileIndexFromId(id); got != -1 {
		t.Errorf("expected -1 for garbage digits, got %d", got)
	}
	id = incfs.FileId{byte(ModeStreaming)}
	if got := FileIndexFromId(id); got != -1 {
		t.Errorf("expected -1 for empty digits, got %d", got)
	}
}
