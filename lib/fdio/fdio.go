// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fdio implements blocking I/O on raw file descriptors. The loader
// deals in descriptors handed over from other processes, not *os.File
// handles, so the usual runtime poller machinery does not apply here.
package fdio

import (
	"io"

	"golang.org/x/sys/unix"
)

// Read reads up to len(buf) bytes from fd, retrying on EINTR. A zero return
// with nil error means end of file.
func Read(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// ReadFull reads exactly len(buf) bytes from fd. It returns io.EOF if no
// bytes were read and io.ErrUnexpectedEOF if the descriptor ran dry partway.
func ReadFull(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := Read(fd, buf[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			if read == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		read += n
	}
	return nil
}

// WriteFull writes all of buf to fd, retrying on EINTR and short writes.
func WriteFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// Dup duplicates the given descriptor with the close-on-exec flag set.
func Dup(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}

// Close closes the descriptor, ignoring the occasional EINTR. Safe to call
// with a negative descriptor.
func Close(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
