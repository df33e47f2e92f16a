// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package monitor implements a process-wide, optional mirror of every
// envelope sent or received by any rpcbus peer in this process. It is off
// by default, best-effort, and deactivates itself silently on any failure
// rather than retrying or blocking ordinary traffic.
package monitor

import (
	"net"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Direction tags which way a mirrored frame travelled.
type Direction string

const (
	Incoming Direction = "Incoming"
	Outgoing Direction = "Outgoing"
)

// monitorEndpoint is the method name every mirrored frame is sent under.
const monitorEndpoint = "message"

var (
	mu     sync.Mutex
	conn   *net.UnixConn
	active atomic.Bool
)

// Set installs c as the monitor stream and activates the tap. Passing nil
// deactivates it.
func Set(c *net.UnixConn) {
	mu.Lock()
	conn = c
	mu.Unlock()
	active.Store(c != nil)
}

// IsActive reports whether the tap is currently installed.
func IsActive() bool {
	return active.Load()
}

// payload is what actually travels over the monitor stream.
type payload struct {
	PeerName  string   `bson:"peer_name"`
	Direction string   `bson:"direction"`
	Envelope  bson.Raw `bson:"envelope"`
}

// Send mirrors env to the installed monitor stream, best-effort. Callers
// pass the envelope that was just sent or received on a real peer
// connection; Send writes directly to the monitor connection rather than
// going through a Writer, so mirrored traffic can never itself be mirrored.
func Send(peerName string, direction Direction, env wire.Envelope) {
	if !active.Load() {
		return
	}

	envDoc, err := wire.Encode(env)
	if err != nil {
		deactivate()
		return
	}
	typ, data, err := bson.MarshalValue(payload{
		PeerName:  peerName,
		Direction: string(direction),
		Envelope:  bson.Raw(envDoc),
	})
	if err != nil {
		deactivate()
		return
	}

	mirror := wire.Envelope{
		ID: wire.OneWayID,
		Data: wire.Message{
			Endpoint: monitorEndpoint,
			Body:     bson.RawValue{Type: typ, Value: data},
		},
	}

	// Hold mu across the write, not just the conn read: multiple peer
	// goroutines call Send concurrently, and WriteEnvelope is not itself
	// safe against interleaving with another writer.
	mu.Lock()
	defer mu.Unlock()
	if conn == nil {
		return
	}
	if err := wire.WriteEnvelope(conn, mirror); err != nil {
		deactivate()
	}
}

func deactivate() {
	active.Store(false)
}
