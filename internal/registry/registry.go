// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package registry tracks outstanding one-shot calls, FD-calls, and
// multi-shot subscriptions by id, and remembers resubscribe payloads so a
// reconnect can replay them on a fresh transport.
package registry

import (
	"log/slog"
	"os"
	"sync"

	"github.com/krossbar-go/rpcbus/internal/wire"
)

// subscriptionBacklog bounds the subscriber delivery channel; once full,
// delivery blocks rather than drops, applying backpressure to the reader
// that is feeding this registry.
const subscriptionBacklog = 100

// FDResult is delivered to a pending FD-call: a result plus, on success, the
// stream descriptor that followed it over SCM_RIGHTS.
type FDResult struct {
	Result wire.Result
	Stream *os.File
}

// Subscription is the caller-visible handle for a subscribe() call. Values
// are received from Chan() until Close is called or the registry delivers no
// more (peer gone); Close is safe to call more than once.
type Subscription struct {
	ch   chan wire.Result
	done chan struct{}
	once sync.Once
}

// Chan returns the channel subscription results are delivered on.
func (s *Subscription) Chan() <-chan wire.Result { return s.ch }

// Close signals the registry that this subscriber is no longer interested.
// The registry observes this the next time it attempts a delivery and
// removes both the subscription and its active-subscription replay entry.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

type subscriptionEntry struct {
	sub *Subscription
}

// Registry is a call registry instance, analogous to one RPC handle's
// bookkeeping. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	nextID int64

	calls         map[int64]chan wire.Result
	fdCalls       map[int64]chan FDResult
	subscriptions map[int64]subscriptionEntry
	active        map[int64]wire.Envelope

	logger *slog.Logger
}

// New creates an empty registry. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		calls:         make(map[int64]chan wire.Result),
		fdCalls:       make(map[int64]chan FDResult),
		subscriptions: make(map[int64]subscriptionEntry),
		active:        make(map[int64]wire.Envelope),
		logger:        logger,
	}
}

// nextAllocatedID returns the next strictly increasing, positive id. Must be
// called with mu held.
func (r *Registry) nextAllocatedID() int64 {
	r.nextID++
	return r.nextID
}

// AddCall allocates an id and installs a one-shot result sink.
func (r *Registry) AddCall() (int64, <-chan wire.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextAllocatedID()
	ch := make(chan wire.Result, 1)
	r.calls[id] = ch
	return id, ch
}

// AddFDCall allocates an id and installs a one-shot (result, stream) sink.
func (r *Registry) AddFDCall() (int64, <-chan FDResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextAllocatedID()
	ch := make(chan FDResult, 1)
	r.fdCalls[id] = ch
	return id, ch
}

// AddSubscription allocates an id and installs a bounded multi-delivery
// sink. The caller is expected to persist the replay payload separately via
// AddPersistentCall once the Subscription envelope has been written.
func (r *Registry) AddSubscription() (int64, *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextAllocatedID()
	sub := &Subscription{
		ch:   make(chan wire.Result, subscriptionBacklog),
		done: make(chan struct{}),
	}
	r.subscriptions[id] = subscriptionEntry{sub: sub}
	return id, sub
}

// AddPersistentCall records env as the replay payload to re-emit for id on
// the next reconnect handoff.
func (r *Registry) AddPersistentCall(id int64, env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = env
}

// Resolve delivers response to the matching entry, in precedence order:
// pending one-shot calls, then active subscriptions, then fd-calls (the
// error-for-FD-call fallback, used when an FD-call fails before any stream
// transfer is attempted). Unknown ids are logged and dropped.
func (r *Registry) Resolve(id int64, result wire.Result) {
	r.mu.Lock()
	if ch, ok := r.calls[id]; ok {
		delete(r.calls, id)
		r.mu.Unlock()
		ch <- result
		close(ch)
		return
	}

	if entry, ok := r.subscriptions[id]; ok {
		if _, active := r.active[id]; active {
			sub := entry.sub
			r.mu.Unlock()
			// Check done first, so a closed subscriber is removed even while
			// its channel still has room.
			select {
			case <-sub.done:
			default:
				select {
				case sub.ch <- result:
					return
				case <-sub.done:
				}
			}
			r.mu.Lock()
			delete(r.subscriptions, id)
			delete(r.active, id)
			r.mu.Unlock()
			return
		}
		// No replay entry is recorded for this id, so it is not a live
		// subscription; drop it without delivering.
		delete(r.subscriptions, id)
		r.mu.Unlock()
		return
	}

	if ch, ok := r.fdCalls[id]; ok {
		delete(r.fdCalls, id)
		r.mu.Unlock()
		ch <- FDResult{Result: result}
		close(ch)
		return
	}

	r.mu.Unlock()
	r.logger.Warn("rpcbus: resolve for unknown id", "id", id)
}

// ResolveWithFD delivers an FD-call result. fdLost indicates the peer's
// stream descriptor failed to arrive after an Ok response; in that case the
// awaiter observes PeerDisconnected regardless of what result carried.
func (r *Registry) ResolveWithFD(id int64, result wire.Result, stream *os.File, fdLost bool) {
	r.mu.Lock()
	ch, ok := r.fdCalls[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("rpcbus: resolve_with_fd for unknown id", "id", id)
		return
	}
	delete(r.fdCalls, id)
	r.mu.Unlock()

	switch {
	case fdLost:
		ch <- FDResult{Result: wire.ErrResult(wire.ErrPeerDisconnected)}
	case result.Err == nil && stream == nil:
		ch <- FDResult{Result: wire.ErrResult(wire.NewDetailedError(wire.KindInternalError, "Ok without stream"))}
	default:
		ch <- FDResult{Result: result, Stream: stream}
	}
	close(ch)
}

// ClearPendingCalls drops every one-shot call and fd-call sink, delivering
// PeerDisconnected to each awaiter via a final send followed by channel
// close. Active subscriptions are preserved untouched.
func (r *Registry) ClearPendingCalls() {
	r.mu.Lock()
	calls := r.calls
	fdCalls := r.fdCalls
	r.calls = make(map[int64]chan wire.Result)
	r.fdCalls = make(map[int64]chan FDResult)
	r.mu.Unlock()

	disconnected := wire.ErrResult(wire.ErrPeerDisconnected)
	for _, ch := range calls {
		ch <- disconnected
		close(ch)
	}
	for _, ch := range fdCalls {
		ch <- FDResult{Result: disconnected}
		close(ch)
	}
}

// ActiveSubscriptions returns a snapshot of (id, retained envelope) pairs to
// replay on a freshly reconnected transport.
func (r *Registry) ActiveSubscriptions() map[int64]wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]wire.Envelope, len(r.active))
	for id, env := range r.active {
		out[id] = env
	}
	return out
}

// RemoveSubscription drops both bookkeeping entries for id, used when the
// caller observes the subscriber side has already gone away without waiting
// for the next resolve to discover it (e.g. explicit teardown).
func (r *Registry) RemoveSubscription(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, id)
	delete(r.active, id)
}
