// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testutil provides a raw AF_UNIX socketpair for tests that need a
// real *net.UnixConn on each side, including SCM_RIGHTS-carrying tests that
// net.Pipe cannot support.
package testutil

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// Socketpair returns two connected, already-open *net.UnixConn values backed
// by a single socketpair(2) call.
func Socketpair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}

	left, err := fdToUnixConn(fds[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := fdToUnixConn(fds[1])
	if err != nil {
		left.Close()
		return nil, nil, err
	}
	return left, right, nil
}

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "socketpair")
	c, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("FileConn: %w", err)
	}
	f.Close()
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("unexpected conn type %T", c)
	}
	return uc, nil
}
