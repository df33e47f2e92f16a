// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcbus

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/krossbar-go/rpcbus/internal/testutil"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

func newPair(t *testing.T) (*Rpc, *Rpc) {
	t.Helper()
	left, right, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	a := New(left, "A", nil)
	b := New(right, "B", nil)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return a, b
}

// pollInBackground drives r's Poll loop so that Response and FdResponse
// frames addressed to r are routed to its registry. It stops once Poll
// reports the peer is gone.
func pollInBackground(r *Rpc) {
	go func() {
		for {
			if _, err := r.Poll(); err != nil {
				return
			}
		}
	}()
}

// S1 — simple call.
func TestS1_SimpleCall(t *testing.T) {
	a, b := newPair(t)
	pollInBackground(a)

	go func() {
		req, err := b.Poll()
		if err != nil {
			t.Errorf("B.Poll: %v", err)
			return
		}
		call, ok := req.Body().(CallBody)
		if !ok || call.Endpoint != "echo" {
			t.Errorf("unexpected request: %+v", req)
			return
		}
		var params uint32
		if err := call.Params.Unmarshal(&params); err != nil {
			t.Errorf("decode params: %v", err)
			return
		}
		if params != 42 {
			t.Errorf("expected 42, got %d", params)
		}
		res, _ := wire.OkResult(uint32(420))
		if err := req.Respond(res); err != nil {
			t.Errorf("Respond: %v", err)
		}
	}()

	pending, err := Call[uint32](a.Writer(), a.Registry(), "echo", uint32(42))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 420 {
		t.Errorf("expected 420, got %d", v)
	}
}

// S2 — result type mismatch.
func TestS2_ResultTypeMismatch(t *testing.T) {
	a, b := newPair(t)
	pollInBackground(a)

	go func() {
		req, err := b.Poll()
		if err != nil {
			t.Errorf("B.Poll: %v", err)
			return
		}
		res, _ := wire.OkResult(uint32(420))
		_ = req.Respond(res)
	}()

	pending, err := Call[string](a.Writer(), a.Registry(), "echo", uint32(42))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	if err == nil {
		t.Fatal("expected a result-type error")
	}
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) {
		t.Fatalf("expected *wire.Error, got %T: %v", err, err)
	}
	if wireErr.Kind != wire.KindResultTypeError {
		t.Errorf("expected ResultTypeError, got %v", wireErr.Kind)
	}
}

// S3 — unrepresentable params: Call returns a synchronous ParamsTypeError
// and writes no frame.
func TestS3_UnrepresentableParams(t *testing.T) {
	a, _ := newPair(t)

	_, err := Call[uint32](a.Writer(), a.Registry(), "echo", make(chan int))
	if err == nil {
		t.Fatal("expected a synchronous params error")
	}
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) {
		t.Fatalf("expected *wire.Error, got %T: %v", err, err)
	}
	if wireErr.Kind != wire.KindParamsTypeError {
		t.Errorf("expected ParamsTypeError, got %v", wireErr.Kind)
	}
}

// S4 — subscription replay across reconnect.
func TestS4_SubscriptionReplay(t *testing.T) {
	a, b := newPair(t)

	bReqs := make(chan *Request, 4)
	go func() {
		for {
			req, err := b.Poll()
			if err != nil {
				return
			}
			bReqs <- req
		}
	}()

	// A's reader keeps polling across the handoff below: a read blocked on
	// the old transport fails once that transport is closed, and the next
	// Poll reads from the new one.
	aDone := make(chan struct{})
	defer close(aDone)
	go func() {
		for {
			if _, err := a.Poll(); err != nil {
				select {
				case <-aDone:
					return
				default:
				}
			}
		}
	}()

	sub := Subscribe[uint32](a.Writer(), a.Registry(), "ticks")

	req := <-bReqs
	subBody, ok := req.Body().(SubscriptionBody)
	if !ok || subBody.Endpoint != "ticks" {
		t.Fatalf("unexpected request: %+v", req)
	}

	res420, _ := wire.OkResult(uint32(420))
	res421, _ := wire.OkResult(uint32(421))
	if err := req.Respond(res420); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := req.Respond(res421); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := sub.Next(ctx)
	if err != nil || v != 420 {
		t.Fatalf("expected 420, got %d, err=%v", v, err)
	}
	v, err = sub.Next(ctx)
	if err != nil || v != 421 {
		t.Fatalf("expected 421, got %d, err=%v", v, err)
	}

	// Replace A's transport with a fresh connection to a new peer C.
	leftC, rightC, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer leftC.Close()
	defer rightC.Close()
	c := New(rightC, "C", nil)

	oldConn := a.currentConn()
	a.BeginHandoff(leftC)
	oldConn.Close()
	a.ReplaySubscriptions()

	req2, err := c.Poll()
	if err != nil {
		t.Fatalf("C.Poll: %v", err)
	}
	subBody2, ok := req2.Body().(SubscriptionBody)
	if !ok || subBody2.Endpoint != "ticks" {
		t.Fatalf("unexpected replayed request: %+v", req2)
	}
	if req2.ID != req.ID {
		t.Errorf("expected replayed id %d, got %d", req.ID, req2.ID)
	}

	res422, _ := wire.OkResult(uint32(422))
	res423, _ := wire.OkResult(uint32(423))
	if err := req2.Respond(res422); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := req2.Respond(res423); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	v, err = sub.Next(ctx)
	if err != nil || v != 422 {
		t.Fatalf("expected 422, got %d, err=%v", v, err)
	}
	v, err = sub.Next(ctx)
	if err != nil || v != 423 {
		t.Fatalf("expected 423, got %d, err=%v", v, err)
	}
}

// S5 — FD round trip.
func TestS5_FDRoundTrip(t *testing.T) {
	a, b := newPair(t)
	pollInBackground(a)

	bReqs := make(chan *Request, 1)
	go func() {
		req, err := b.Poll()
		if err != nil {
			t.Errorf("B.Poll: %v", err)
			return
		}
		bReqs <- req
	}()

	pending, err := CallFD[uint32](a.Writer(), a.Registry(), "handshake", uint32(42))
	if err != nil {
		t.Fatalf("CallFD: %v", err)
	}

	req := <-bReqs
	streamA, streamB, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer streamA.Close()

	res, _ := wire.OkResult(uint32(420))
	f, err := streamB.File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer f.Close()
	streamB.Close()
	if err := req.RespondWithFD(res, f); err != nil {
		t.Fatalf("RespondWithFD: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, stream, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 420 {
		t.Errorf("expected 420, got %d", v)
	}
	if stream == nil {
		t.Fatal("expected a stream descriptor")
	}
	defer stream.Close()

	streamConn, err := net.FileConn(stream)
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	defer streamConn.Close()

	if _, err := streamA.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	streamConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := streamConn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("expected %q, got %q", "hello", buf)
	}
}

// S6 — connection request.
func TestS6_ConnectionRequest(t *testing.T) {
	a, b := newPair(t)

	sA, sB, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer sA.Close()
	fB, err := sB.File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer fB.Close()
	sB.Close()

	done := make(chan error, 1)
	go func() {
		done <- a.Writer().ConnectionRequest("svcA", "svcB", fB)
	}()

	req, err := b.Poll()
	if err != nil {
		t.Fatalf("B.Poll: %v", err)
	}
	if req.Endpoint != "connect" {
		t.Fatalf("expected endpoint %q, got %q", "connect", req.Endpoint)
	}
	body, ok := req.Body().(ConnectBody)
	if !ok {
		t.Fatalf("expected ConnectBody, got %T", req.Body())
	}
	if body.ClientName != "svcA" || body.TargetName != "svcB" {
		t.Errorf("unexpected names: %+v", body)
	}
	defer body.Stream.Close()

	if err := <-done; err != nil {
		t.Fatalf("ConnectionRequest: %v", err)
	}

	peerConn, err := net.FileConn(body.Stream)
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	defer peerConn.Close()

	if _, err := sA.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 4)
	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peerConn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("expected %q, got %q", "ping", buf)
	}
}

// S7 — peer gone.
func TestS7_PeerGone(t *testing.T) {
	left, right, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	a := New(left, "A", nil)

	left.Close()
	right.Close()

	pending, err := Call[uint32](a.Writer(), a.Registry(), "echo", uint32(1))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	if !errors.Is(err, wire.ErrPeerDisconnected) {
		t.Fatalf("expected PeerDisconnected, got %v", err)
	}

	if _, err := a.Poll(); err == nil {
		t.Fatal("expected Poll to report the peer is gone")
	}
}
