// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package shell resolves the loader's install arguments to the originating
// command: the piped input feeding the install and the local files named in
// per-file metadata. The actual command lives in the host process; the
// loader only ever sees descriptors.
package shell

import (
	"errors"

	"github.com/incload/incload/lib/sync"
)

var ErrNotFound = errors.New("no such shell command")

// Resolver finds the command an install was started from.
type Resolver interface {
	LookupShellCommand(args string) (Command, error)
}

// Command hands out descriptors belonging to one install command. Every
// returned descriptor is a fresh handle owned by the caller.
type Command interface {
	// Stdin returns the command's piped input.
	Stdin() (int, error)
	// LocalFile returns a descriptor for the named file, or ErrNotFound.
	LocalFile(path string) (int, error)
}

// Registry is a Resolver backed by an in-process table, keyed by the opaque
// argument string the installer passes through.
type Registry struct {
	mut  sync.Mutex
	cmds map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{
		mut:  sync.NewMutex(),
		cmds: make(map[string]Command),
	}
}

func (r *Registry) Add(args string, cmd Command) {
	r.mut.Lock()
	r.cmds[args] = cmd
	r.mut.Unlock()
}

func (r *Registry) Remove(args string) {
	r.mut.Lock()
	delete(r.cmds, args)
	r.mut.Unlock()
}

func (r *Registry) LookupShellCommand(args string) (Command, error) {
	r.mut.Lock()
	cmd, ok := r.cmds[args]
	r.mut.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cmd, nil
}
