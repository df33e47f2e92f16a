// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package registry

import (
	"testing"
	"time"

	"github.com/krossbar-go/rpcbus/internal/wire"
)

func TestIDs_StrictlyIncreasingAndUnique(t *testing.T) {
	r := New(nil)
	seen := map[int64]bool{}
	var last int64

	allocate := func() int64 {
		switch len(seen) % 3 {
		case 0:
			id, _ := r.AddCall()
			return id
		case 1:
			id, _ := r.AddFDCall()
			return id
		default:
			id, _ := r.AddSubscription()
			return id
		}
	}

	for i := 0; i < 30; i++ {
		id := allocate()
		if id <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, last)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
		last = id
	}
}

func TestResolve_Call(t *testing.T) {
	r := New(nil)
	id, ch := r.AddCall()

	ok, err := wire.OkResult(int32(420))
	if err != nil {
		t.Fatalf("OkResult: %v", err)
	}
	r.Resolve(id, ok)

	res := <-ch
	var v int32
	if err := res.Decode(&v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != 420 {
		t.Errorf("expected 420, got %d", v)
	}
}

func TestResolve_UnknownID_Dropped(t *testing.T) {
	r := New(nil)
	ok, _ := wire.OkResult(int32(1))
	// Must not panic or block.
	r.Resolve(999, ok)
}

func TestResolveWithFD_OkWithoutStream(t *testing.T) {
	r := New(nil)
	id, ch := r.AddFDCall()
	ok, _ := wire.OkResult(int32(420))
	r.ResolveWithFD(id, ok, nil, false)

	res := <-ch
	if res.Result.Err == nil {
		t.Fatal("expected an error when Ok result carries no stream")
	}
	if res.Result.Err.Kind != wire.KindInternalError {
		t.Errorf("expected InternalError, got %v", res.Result.Err.Kind)
	}
}

func TestResolveWithFD_Lost(t *testing.T) {
	r := New(nil)
	id, ch := r.AddFDCall()
	ok, _ := wire.OkResult(int32(420))
	r.ResolveWithFD(id, ok, nil, true)

	res := <-ch
	if res.Result.Err == nil || res.Result.Err.Kind != wire.KindPeerDisconnected {
		t.Fatalf("expected PeerDisconnected, got %+v", res.Result.Err)
	}
}

func TestResolve_ErrorFallsBackToFDCall(t *testing.T) {
	r := New(nil)
	id, ch := r.AddFDCall()
	errResult := wire.ErrResult(wire.NewError(wire.KindServiceNotFound))
	r.Resolve(id, errResult)

	res := <-ch
	if res.Result.Err == nil || res.Result.Err.Kind != wire.KindServiceNotFound {
		t.Fatalf("expected ServiceNotFound, got %+v", res.Result.Err)
	}
	if res.Stream != nil {
		t.Errorf("expected no stream on error fallback")
	}
}

func TestClearPendingCalls_DeliversPeerDisconnected(t *testing.T) {
	r := New(nil)
	callID, callCh := r.AddCall()
	fdID, fdCh := r.AddFDCall()
	subID, sub := r.AddSubscription()
	r.AddPersistentCall(subID, wire.Envelope{ID: subID, Data: wire.Subscription{Endpoint: "ticks"}})

	r.ClearPendingCalls()

	res, ok := <-callCh
	if !ok {
		t.Fatal("expected a value before close")
	}
	if res.Err == nil || res.Err.Kind != wire.KindPeerDisconnected {
		t.Fatalf("expected PeerDisconnected, got %+v", res.Err)
	}
	if _, open := <-callCh; open {
		t.Error("expected call channel to be closed")
	}

	fdRes := <-fdCh
	if fdRes.Result.Err == nil || fdRes.Result.Err.Kind != wire.KindPeerDisconnected {
		t.Fatalf("expected PeerDisconnected on fd call, got %+v", fdRes.Result.Err)
	}

	active := r.ActiveSubscriptions()
	if _, ok := active[subID]; !ok {
		t.Error("expected active subscription to survive ClearPendingCalls")
	}

	ok2, _ := wire.OkResult(int32(1))
	r.Resolve(subID, ok2)
	select {
	case v := <-sub.Chan():
		if v.Err != nil {
			t.Fatalf("unexpected error delivering to surviving subscription: %v", v.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
	_ = callID
}

func TestSubscription_CloseRemovesBothEntriesOnNextResolve(t *testing.T) {
	r := New(nil)
	id, sub := r.AddSubscription()
	r.AddPersistentCall(id, wire.Envelope{ID: id, Data: wire.Subscription{Endpoint: "ticks"}})

	sub.Close()

	ok, _ := wire.OkResult(int32(1))
	done := make(chan struct{})
	go func() {
		r.Resolve(id, ok)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resolve should not block once subscriber closed")
	}

	active := r.ActiveSubscriptions()
	if _, ok := active[id]; ok {
		t.Error("expected active subscription entry to be removed after close")
	}
}

func TestActiveSubscriptions_Snapshot(t *testing.T) {
	r := New(nil)
	id, _ := r.AddSubscription()
	env := wire.Envelope{ID: id, Data: wire.Subscription{Endpoint: "ticks"}}
	r.AddPersistentCall(id, env)

	snap := r.ActiveSubscriptions()
	got, ok := snap[id]
	if !ok {
		t.Fatalf("expected id %d in snapshot", id)
	}
	if sub, ok := got.Data.(wire.Subscription); !ok || sub.Endpoint != "ticks" {
		t.Errorf("unexpected retained envelope: %+v", got)
	}
}
