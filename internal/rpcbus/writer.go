// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rpcbus implements the writer, reader/dispatcher, and reconnect
// handoff described by the transport's component design: callers obtain a
// *Writer to send messages, calls, subscriptions and responses, and drive a
// *Rpc's Poll loop to receive them.
package rpcbus

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/krossbar-go/rpcbus/internal/monitor"
	"github.com/krossbar-go/rpcbus/internal/registry"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Writer owns the write half of one RPC connection. The write half is
// guarded by a mutex so a message and its trailing SCM_RIGHTS descriptor are
// always emitted atomically, and so the same *Writer can be shared safely
// across goroutines.
type Writer struct {
	mu       sync.Mutex
	conn     *net.UnixConn
	peerName string
	reg      *registry.Registry
	logger   *slog.Logger
}

// NewWriter builds a writer over conn, identified to monitor traffic as
// peerName, backed by reg for call/subscription bookkeeping.
func NewWriter(conn *net.UnixConn, peerName string, reg *registry.Registry, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{conn: conn, peerName: peerName, reg: reg, logger: logger}
}

// send takes the write lock, writes env, mirrors it to the monitor tap on
// success, and on failure clears every pending one-shot/fd call since the
// connection is now assumed dead.
func (w *Writer) send(env wire.Envelope) error {
	w.mu.Lock()
	err := wire.WriteEnvelope(w.conn, env)
	if err == nil {
		monitor.Send(w.peerName, monitor.Outgoing, env)
	}
	w.mu.Unlock()
	if err != nil {
		w.reg.ClearPendingCalls()
	}
	return err
}

func marshalParams(v any) (bson.RawValue, error) {
	typ, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, wire.ParamsTypeError(err)
	}
	return bson.RawValue{Type: typ, Value: data}, nil
}

// SendMessage emits a fire-and-forget Message; there is no registry entry
// and no response is expected.
func (w *Writer) SendMessage(endpoint string, body any) error {
	val, err := marshalParams(body)
	if err != nil {
		return err
	}
	env := wire.Envelope{ID: wire.OneWayID, Data: wire.Message{Endpoint: endpoint, Body: val}}
	return w.send(env)
}

// Respond emits a Response for a previously received Call.
func (w *Writer) Respond(id int64, result wire.Result) error {
	return w.send(wire.Envelope{ID: id, Data: wire.Response{Result: result}})
}

// RespondWithFD emits an FdResponse, followed by stream over SCM_RIGHTS if
// result is Ok. The two writes happen under one lock acquisition.
func (w *Writer) RespondWithFD(id int64, result wire.Result, stream *os.File) error {
	env := wire.Envelope{ID: id, Data: wire.FdResponse{Result: result}}

	w.mu.Lock()
	err := wire.WriteEnvelope(w.conn, env)
	if err == nil {
		monitor.Send(w.peerName, monitor.Outgoing, env)
		if result.Err == nil && stream != nil {
			err = wire.SendFD(w.conn, stream)
		}
	}
	w.mu.Unlock()

	if err != nil {
		w.reg.ClearPendingCalls()
	}
	return err
}

// ConnectionRequest emits a ConnectionRequest with id 0, then sends stream
// via SCM_RIGHTS under the same lock acquisition.
func (w *Writer) ConnectionRequest(clientName, targetName string, stream *os.File) error {
	env := wire.Envelope{
		ID:   wire.ConnectionRequestID,
		Data: wire.ConnectionRequest{ClientName: clientName, TargetName: targetName},
	}

	w.mu.Lock()
	err := wire.WriteEnvelope(w.conn, env)
	if err == nil {
		monitor.Send(w.peerName, monitor.Outgoing, env)
		err = wire.SendFD(w.conn, stream)
	}
	w.mu.Unlock()

	if err != nil {
		w.reg.ClearPendingCalls()
	}
	return err
}

// Flush is a no-op hook kept for API parity with buffered writers upstream
// of a Writer (e.g. a rate-limited wrapper); this Writer writes directly to
// the connection and has nothing to drain.
func (w *Writer) Flush() error {
	return nil
}

// BeginHandoff swaps in newConn and clears pending one-shot/fd calls. It is
// split from ReplaySubscriptions so a reconnect coordinator can run a
// connector's OnConnected hook in between the two, per the connector
// contract: the hook runs after handoff but before subscription replay.
func (w *Writer) BeginHandoff(newConn *net.UnixConn) {
	w.mu.Lock()
	w.conn = newConn
	w.mu.Unlock()

	w.reg.ClearPendingCalls()
}

// ReplaySubscriptions re-emits every active subscription's retained
// envelope on the current transport. Failures are logged, not fatal; the
// next I/O on this transport will observe them.
func (w *Writer) ReplaySubscriptions() {
	for id, env := range w.reg.ActiveSubscriptions() {
		if err := w.send(env); err != nil {
			w.logger.Warn("rpcbus: failed to replay subscription on reconnect", "id", id, "err", err)
		}
	}
}

// OnReconnected performs the full reconnect handoff with no connector hook
// in between: BeginHandoff followed immediately by ReplaySubscriptions.
func (w *Writer) OnReconnected(newConn *net.UnixConn) {
	w.BeginHandoff(newConn)
	w.ReplaySubscriptions()
}
