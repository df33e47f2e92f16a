// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcbus

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/krossbar-go/rpcbus/internal/monitor"
	"github.com/krossbar-go/rpcbus/internal/registry"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Rpc owns the read half of one RPC connection. A Rpc is driven by exactly
// one goroutine calling Poll in a loop; its Writer may be shared freely with
// other goroutines.
type Rpc struct {
	connMu sync.Mutex
	conn   *net.UnixConn

	peerName string
	reg      *registry.Registry
	writer   *Writer
	logger   *slog.Logger
}

// New builds an Rpc handle from one connected stream, splitting it into a
// reader (owned by this value) and a writer (owned by Writer()).
func New(conn *net.UnixConn, peerName string, logger *slog.Logger) *Rpc {
	if logger == nil {
		logger = slog.Default()
	}
	reg := registry.New(logger)
	return &Rpc{
		conn:     conn,
		peerName: peerName,
		reg:      reg,
		writer:   NewWriter(conn, peerName, reg, logger),
		logger:   logger,
	}
}

// Writer returns the handle's writer.
func (r *Rpc) Writer() *Writer { return r.writer }

// Registry returns the handle's call registry, for package-level generic
// helpers that need to register calls/subscriptions alongside the writer.
func (r *Rpc) Registry() *registry.Registry { return r.reg }

func (r *Rpc) currentConn() *net.UnixConn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

// Poll yields the next request that requires user action: an incoming
// message, call, subscription, or connection request. Response and
// FdResponse frames are consumed and routed to the registry without being
// yielded. A nil Request with a non-nil error signals the peer is gone;
// the handle is recoverable only via OnReconnected.
func (r *Rpc) Poll() (*Request, error) {
	for {
		conn := r.currentConn()
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			return nil, err
		}
		monitor.Send(r.peerName, monitor.Incoming, env)

		switch d := env.Data.(type) {
		case wire.Message:
			return &Request{
				ID:       wire.OneWayID,
				Endpoint: d.Endpoint,
				body:     MessageBody{Endpoint: d.Endpoint, Body: d.Body},
				writer:   r.writer,
			}, nil

		case wire.Call:
			return &Request{
				ID:       env.ID,
				Endpoint: d.Endpoint,
				body:     CallBody{Endpoint: d.Endpoint, Params: d.Params},
				writer:   r.writer,
			}, nil

		case wire.Subscription:
			return &Request{
				ID:       env.ID,
				Endpoint: d.Endpoint,
				body:     SubscriptionBody{Endpoint: d.Endpoint},
				writer:   r.writer,
			}, nil

		case wire.ConnectionRequest:
			stream, ferr := wire.ReceiveFD(conn)
			if ferr != nil {
				r.logger.Warn("rpcbus: failed to receive connection-request descriptor", "err", ferr)
				continue
			}
			return &Request{
				ID:       env.ID,
				Endpoint: "connect",
				body:     ConnectBody{ClientName: d.ClientName, TargetName: d.TargetName, Stream: stream},
				writer:   r.writer,
			}, nil

		case wire.Response:
			r.reg.Resolve(env.ID, d.Result)
			continue

		case wire.FdResponse:
			if d.Result.Err != nil {
				r.reg.Resolve(env.ID, d.Result)
				continue
			}
			stream, ferr := wire.ReceiveFD(conn)
			if ferr != nil {
				r.reg.ResolveWithFD(env.ID, d.Result, nil, true)
			} else {
				r.reg.ResolveWithFD(env.ID, d.Result, stream, false)
			}
			continue

		default:
			r.logger.Warn("rpcbus: unknown envelope data variant", "type", fmt.Sprintf("%T", env.Data))
			continue
		}
	}
}

// BeginHandoff switches the reader to newConn and runs the writer's
// BeginHandoff (swap + clear pending calls). Subscription replay is left to
// ReplaySubscriptions, so a reconnect coordinator can run a connector's
// OnConnected hook in between the two.
func (r *Rpc) BeginHandoff(newConn *net.UnixConn) {
	r.connMu.Lock()
	r.conn = newConn
	r.connMu.Unlock()
	r.writer.BeginHandoff(newConn)
}

// ReplaySubscriptions re-emits every active subscription on the current
// transport.
func (r *Rpc) ReplaySubscriptions() {
	r.writer.ReplaySubscriptions()
}

// OnReconnected absorbs a freshly obtained stream with no connector hook in
// between: BeginHandoff followed immediately by ReplaySubscriptions.
func (r *Rpc) OnReconnected(newConn *net.UnixConn) {
	r.BeginHandoff(newConn)
	r.ReplaySubscriptions()
}
