// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wire

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SendFD passes f's descriptor as a single SCM_RIGHTS ancillary message over
// conn. The caller must hold whatever lock also guards the preceding frame
// write, since the two must never be interleaved with another frame.
func SendFD(conn *net.UnixConn, f *os.File) error {
	rights := unix.UnixRights(int(f.Fd()))
	_, _, err := conn.WriteMsgUnix(nil, rights, nil)
	if err != nil {
		return ErrPeerDisconnected
	}
	return nil
}

// ReceiveFD reads exactly one SCM_RIGHTS ancillary message from conn and
// returns the descriptor it carried, wrapped as an *os.File. The caller must
// invoke this immediately after decoding a frame whose data variant
// announces a following descriptor, before reading the next frame.
func ReceiveFD(conn *net.UnixConn) (*os.File, error) {
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(nil, oob)
	if err != nil {
		return nil, ErrPeerDisconnected
	}
	if oobn == 0 {
		return nil, ErrPeerDisconnected
	}
	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(scms) == 0 {
		return nil, ErrPeerDisconnected
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil || len(fds) != 1 {
		return nil, ErrPeerDisconnected
	}
	return os.NewFile(uintptr(fds[0]), "rpcbus-fd"), nil
}
