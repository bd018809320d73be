// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fdio

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EventFD is a one-shot wakeup counter. Any write makes the descriptor
// readable, which is all the receiver loop needs from it.
type EventFD struct {
	fd int
}

func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EventFD{fd: fd}, nil
}

// FD returns the raw descriptor, for polling.
func (e *EventFD) FD() int {
	return e.fd
}

// Signal increments the counter, waking up any poller.
func (e *EventFD) Signal() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	return WriteFull(e.fd, buf[:])
}

func (e *EventFD) Close() {
	Close(e.fd)
	e.fd = -1
}
