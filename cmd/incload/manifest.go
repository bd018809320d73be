// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/incload/incload/lib/incfs"
	"github.com/incload/incload/lib/loader"
)

// manifestEntry is one file of the install set as described on disk.
type manifestEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mode string `json:"mode"`
	// Path is the staged file for mode "local", relative to the source
	// directory.
	Path string `json:"path,omitempty"`
	// Index is the file's index on the streaming channel, for the
	// streaming modes.
	Index int16 `json:"index,omitempty"`
}

func loadManifest(path string) ([]manifestEntry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []manifestEntry
	if err := json.Unmarshal(buf, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: empty install set", path)
	}
	return entries, nil
}

func (e manifestEntry) installationFile() (loader.InstallationFile, error) {
	var metadata []byte
	var id incfs.FileId

	switch e.Mode {
	case "stdin", "":
		metadata = []byte{byte(loader.ModeStdin)}
		id = hashedFileId(e.Name)
	case "local":
		if e.Path == "" {
			return loader.InstallationFile{}, fmt.Errorf("mode local needs a path")
		}
		metadata = append([]byte{byte(loader.ModeLocalFile)}, e.Path...)
		id = hashedFileId(e.Name)
	case "data-only-streaming":
		metadata = []byte{byte(loader.ModeDataOnlyStreaming)}
		id = loader.FileIdFromIndex(loader.ModeDataOnlyStreaming, e.Index)
	case "streaming":
		metadata = []byte{byte(loader.ModeStreaming)}
		id = loader.FileIdFromIndex(loader.ModeStreaming, e.Index)
	default:
		return loader.InstallationFile{}, fmt.Errorf("unknown mode %q", e.Mode)
	}

	return loader.InstallationFile{
		Name:     e.Name,
		Size:     e.Size,
		Metadata: metadata,
		Id:       id,
	}, nil
}

// hashedFileId derives a stable id for files that are not addressed over
// the streaming channel.
func hashedFileId(name string) incfs.FileId {
	var id incfs.FileId
	sum := sha256.Sum256([]byte(name))
	copy(id[:], sum[:])
	return id
}
