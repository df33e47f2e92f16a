// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxFrameLen guards against a corrupt or hostile length prefix driving an
// unbounded allocation.
const maxFrameLen = 64 << 20

// ReadFrame reads one length-prefixed BSON document from r. The first four
// bytes are a little-endian length L that counts itself; ReadFrame returns
// the full L-byte buffer, unmodified, ready for bson.Unmarshal.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrPeerDisconnected
		}
		return nil, fmt.Errorf("read frame length: %w", ErrPeerDisconnected)
	}
	length := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if length < 4 || int(length) > maxFrameLen {
		return nil, InternalErrorf("invalid frame length %d", length)
	}

	buf := make([]byte, length)
	copy(buf, lenBuf[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrPeerDisconnected
		}
		return nil, fmt.Errorf("read frame body: %w", ErrPeerDisconnected)
	}
	return buf, nil
}

// WriteFrame writes a pre-encoded BSON document (as produced by Encode) to
// w in a single logical write. The document's own leading four bytes are
// already its total length, so no additional framing is added.
func WriteFrame(w io.Writer, doc []byte) error {
	if len(doc) < 4 {
		return InternalErrorf("frame too short to contain a length prefix: %d bytes", len(doc))
	}
	if _, err := w.Write(doc); err != nil {
		return fmt.Errorf("write frame: %w", ErrPeerDisconnected)
	}
	return nil
}

// ReadEnvelope reads and decodes one envelope from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	buf, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	env, err := Decode(buf)
	if err != nil {
		return Envelope{}, InternalErrorf("%s", err)
	}
	return env, nil
}

// WriteEnvelope encodes and writes one envelope to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	buf, err := Encode(env)
	if err != nil {
		return InternalErrorf("%s", err)
	}
	return WriteFrame(w, buf)
}
