// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcbus

import (
	"context"
	"net"
)

// Connector is the externally supplied strategy for producing a fresh
// connected stream and, optionally, running a post-connect hook before a
// reconnected handle resumes normal traffic. The retry/backoff policy lives
// entirely in the connector; this package performs none of its own.
type Connector interface {
	// Connect blocks until a new stream is available or ctx is done.
	Connect(ctx context.Context) (*net.UnixConn, error)
	// OnConnected runs immediately after a successful reconnect and before
	// subscription replay. A nil error allows replay to proceed.
	OnConnected(w *Writer) error
}

// Drive repeatedly polls rpc, invoking handle for every yielded request.
// When Poll reports the peer is gone, Drive asks connector for a fresh
// stream, performs the reconnect handoff (running connector.OnConnected
// between handoff and subscription replay, per the connector contract), and
// resumes polling. Drive returns only when ctx is done, connector.Connect
// itself returns an error, or connector.OnConnected returns an error.
func Drive(ctx context.Context, rpc *Rpc, connector Connector, handle func(*Request)) error {
	for {
		req, err := rpc.Poll()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			newConn, cerr := connector.Connect(ctx)
			if cerr != nil {
				return cerr
			}

			rpc.BeginHandoff(newConn)
			if herr := connector.OnConnected(rpc.Writer()); herr != nil {
				return herr
			}
			rpc.ReplaySubscriptions()
			continue
		}
		handle(req)
	}
}
