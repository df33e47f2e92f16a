// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package recorder

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// unixSocketpair returns a connected pair of *net.UnixConn entirely local to
// this process, used to feed the monitor tap (which only accepts a
// *net.UnixConn) without opening any real socket file.
func unixSocketpair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}

	a, err := fdToUnixConn(fds[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := fdToUnixConn(fds[1])
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "monitor-recorder-socketpair")
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
