// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rpcbus

import (
	"os"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Body is the payload of a yielded Request. The concrete type tells the
// caller what kind of request this is; a Request never mandates a response,
// only a Call does, and that contract is enforced by the application, not
// by this package.
type Body interface {
	bodyKind() string
}

// MessageBody is a fire-and-forget notification; no response is expected.
type MessageBody struct {
	Endpoint string
	Body     bson.RawValue
}

func (MessageBody) bodyKind() string { return "message" }

// CallBody expects exactly one Respond/RespondWithFD call on the matching
// Request.
type CallBody struct {
	Endpoint string
	Params   bson.RawValue
}

func (CallBody) bodyKind() string { return "call" }

// SubscriptionBody expects zero or more Respond calls on the matching
// Request's id until the connection ends.
type SubscriptionBody struct {
	Endpoint string
}

func (SubscriptionBody) bodyKind() string { return "subscription" }

// ConnectBody carries the names and descriptor of an accepted
// ConnectionRequest.
type ConnectBody struct {
	ClientName string
	TargetName string
	Stream     *os.File
}

func (ConnectBody) bodyKind() string { return "connect" }

// Request is a yielded unit of work: either an incoming message, a call, a
// subscription, or a connection request. It owns the writer so the caller
// can respond, and carries a takeable Body.
type Request struct {
	ID       int64
	Endpoint string

	body   Body
	writer *Writer
}

// Body returns the request's payload without consuming it.
func (r *Request) Body() Body { return r.body }

// TakeBody returns the request's payload and clears it from the request, so
// callers that move ownership of e.g. a file descriptor don't accidentally
// keep a second reference around.
func (r *Request) TakeBody() Body {
	b := r.body
	r.body = nil
	return b
}

// Respond answers a Call request.
func (r *Request) Respond(result wire.Result) error {
	return r.writer.Respond(r.ID, result)
}

// RespondWithFD answers a Call request whose result carries a descriptor.
func (r *Request) RespondWithFD(result wire.Result, stream *os.File) error {
	return r.writer.RespondWithFD(r.ID, result, stream)
}
