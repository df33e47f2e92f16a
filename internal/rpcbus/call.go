// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcbus

import (
	"context"
	"os"

	"github.com/krossbar-go/rpcbus/internal/registry"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// PendingCall is the typed future returned by Call: it resolves once the
// registry delivers a response or the channel closes on disconnect.
type PendingCall[R any] struct {
	ch <-chan wire.Result
}

// Wait blocks until the call resolves or ctx is done.
func (c *PendingCall[R]) Wait(ctx context.Context) (R, error) {
	var zero R
	select {
	case res, ok := <-c.ch:
		if !ok {
			return zero, wire.ErrPeerDisconnected
		}
		var v R
		if err := res.Decode(&v); err != nil {
			return zero, err
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Call registers a one-shot call, emits Call{endpoint, params}, and returns
// a typed future for the response. Serialization failures are returned
// synchronously and emit no frame. A write failure is not returned here: it
// already drives ClearPendingCalls, which delivers PeerDisconnected through
// this same sink, so the future is handed back and Wait observes it there.
func Call[R any](w *Writer, reg *registry.Registry, endpoint string, params any) (*PendingCall[R], error) {
	val, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id, ch := reg.AddCall()
	env := wire.Envelope{ID: id, Data: wire.Call{Endpoint: endpoint, Params: val}}
	_ = w.send(env)
	return &PendingCall[R]{ch: ch}, nil
}

// PendingFDCall is the typed future returned by CallFD.
type PendingFDCall[R any] struct {
	ch <-chan registry.FDResult
}

// Wait blocks until the call resolves or ctx is done, returning the decoded
// value and the descriptor the peer passed alongside it.
func (c *PendingFDCall[R]) Wait(ctx context.Context) (R, *os.File, error) {
	var zero R
	select {
	case res, ok := <-c.ch:
		if !ok {
			return zero, nil, wire.ErrPeerDisconnected
		}
		if res.Result.Err != nil {
			return zero, nil, res.Result.Err
		}
		var v R
		if err := res.Result.Decode(&v); err != nil {
			return zero, nil, err
		}
		return v, res.Stream, nil
	case <-ctx.Done():
		return zero, nil, ctx.Err()
	}
}

// CallFD registers a one-shot FD-call, emits Call{endpoint, params}, and
// returns a typed future for the (response, descriptor) pair. A write
// failure is not returned here, for the same reason as Call: it already
// drives ClearPendingCalls, which delivers PeerDisconnected through this
// same sink.
func CallFD[R any](w *Writer, reg *registry.Registry, endpoint string, params any) (*PendingFDCall[R], error) {
	val, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id, ch := reg.AddFDCall()
	env := wire.Envelope{ID: id, Data: wire.Call{Endpoint: endpoint, Params: val}}
	_ = w.send(env)
	return &PendingFDCall[R]{ch: ch}, nil
}

// Subscription is the typed stream returned by Subscribe.
type Subscription[R any] struct {
	sub *registry.Subscription
}

// Next blocks until the next delivery, the subscription is closed, or ctx is
// done.
func (s *Subscription[R]) Next(ctx context.Context) (R, error) {
	var zero R
	select {
	case res, ok := <-s.sub.Chan():
		if !ok {
			return zero, wire.ErrPeerDisconnected
		}
		var v R
		if err := res.Decode(&v); err != nil {
			return zero, err
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unregisters this subscription; the registry observes the closure
// the next time it attempts a delivery.
func (s *Subscription[R]) Close() {
	s.sub.Close()
}

// Subscribe registers a subscription, records its replay payload, and emits
// Subscription{endpoint}. Write failures during the initial emission are
// not fatal: the subscription survives and is replayed on the next
// reconnect handoff.
func Subscribe[R any](w *Writer, reg *registry.Registry, endpoint string) *Subscription[R] {
	id, sub := reg.AddSubscription()
	env := wire.Envelope{ID: id, Data: wire.Subscription{Endpoint: endpoint}}
	reg.AddPersistentCall(id, env)
	_ = w.send(env)
	return &Subscription[R]{sub: sub}
}
