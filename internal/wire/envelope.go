// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wire

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Data is the tagged-union payload of an Envelope. Concrete variants are
// Message, Call, Subscription, ConnectionRequest, Response and FdResponse;
// the set is closed, so a type switch over these six is exhaustive.
type Data interface {
	variantName() string
}

// Message is a fire-and-forget frame: no registry entry, no response.
type Message struct {
	Endpoint string
	Body     bson.RawValue
}

func (Message) variantName() string { return "Message" }

// Call expects exactly one Response or FdResponse bearing the same id.
type Call struct {
	Endpoint string
	Params   bson.RawValue
}

func (Call) variantName() string { return "Call" }

// Subscription expects zero or more Responses with the same id until the
// connection ends.
type Subscription struct {
	Endpoint string
}

func (Subscription) variantName() string { return "Subscription" }

// ConnectionRequest announces that the sender will immediately follow with
// one SCM_RIGHTS-passed stream descriptor.
type ConnectionRequest struct {
	ClientName string
	TargetName string
}

func (ConnectionRequest) variantName() string { return "ConnectionRequest" }

// Response carries the result of a Call.
type Response struct {
	Result Result
}

func (Response) variantName() string { return "Response" }

// FdResponse carries the result of a call_fd; on success the sender must
// immediately follow with one SCM_RIGHTS descriptor.
type FdResponse struct {
	Result Result
}

func (FdResponse) variantName() string { return "FdResponse" }

// Envelope is the sole on-wire unit: a signed id plus a tagged Data variant.
// Field names (id, data, and the nested variant field names) are literal
// and stable so that two independent implementations of this wire format
// interoperate.
type Envelope struct {
	ID   int64
	Data Data
}

// OneWayID marks a message that expects no response.
const OneWayID int64 = -1

// ConnectionRequestID is reserved for ConnectionRequest envelopes, whose
// reply is carried out-of-band (the SCM_RIGHTS descriptor itself).
const ConnectionRequestID int64 = 0

// Encode serializes the envelope to a BSON document.
func Encode(env Envelope) ([]byte, error) {
	var inner bson.D
	switch d := env.Data.(type) {
	case Message:
		inner = bson.D{{Key: "Message", Value: bson.D{
			{Key: "endpoint", Value: d.Endpoint},
			{Key: "body", Value: d.Body},
		}}}
	case Call:
		inner = bson.D{{Key: "Call", Value: bson.D{
			{Key: "endpoint", Value: d.Endpoint},
			{Key: "params", Value: d.Params},
		}}}
	case Subscription:
		inner = bson.D{{Key: "Subscription", Value: bson.D{
			{Key: "endpoint", Value: d.Endpoint},
		}}}
	case ConnectionRequest:
		inner = bson.D{{Key: "ConnectionRequest", Value: bson.D{
			{Key: "client_name", Value: d.ClientName},
			{Key: "target_name", Value: d.TargetName},
		}}}
	case Response:
		inner = bson.D{{Key: "Response", Value: d.Result}}
	case FdResponse:
		inner = bson.D{{Key: "FdResponse", Value: d.Result}}
	default:
		return nil, fmt.Errorf("encode envelope: unknown data variant %T", env.Data)
	}
	doc := bson.D{{Key: "id", Value: env.ID}, {Key: "data", Value: inner}}
	out, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// Decode parses a BSON document produced by Encode back into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var wire struct {
		ID   int64    `bson:"id"`
		Data bson.Raw `bson:"data"`
	}
	if err := bson.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	elems, err := wire.Data.Elements()
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope data: %w", err)
	}
	if len(elems) != 1 {
		return Envelope{}, fmt.Errorf("decode envelope data: expected exactly one variant key, got %d", len(elems))
	}
	elem := elems[0]
	value := elem.Value()

	var data Data
	switch elem.Key() {
	case "Message":
		var body struct {
			Endpoint string        `bson:"endpoint"`
			Body     bson.RawValue `bson:"body"`
		}
		if err := value.Unmarshal(&body); err != nil {
			return Envelope{}, fmt.Errorf("decode Message variant: %w", err)
		}
		data = Message{Endpoint: body.Endpoint, Body: body.Body}
	case "Call":
		var call struct {
			Endpoint string        `bson:"endpoint"`
			Params   bson.RawValue `bson:"params"`
		}
		if err := value.Unmarshal(&call); err != nil {
			return Envelope{}, fmt.Errorf("decode Call variant: %w", err)
		}
		data = Call{Endpoint: call.Endpoint, Params: call.Params}
	case "Subscription":
		var sub struct {
			Endpoint string `bson:"endpoint"`
		}
		if err := value.Unmarshal(&sub); err != nil {
			return Envelope{}, fmt.Errorf("decode Subscription variant: %w", err)
		}
		data = Subscription{Endpoint: sub.Endpoint}
	case "ConnectionRequest":
		var cr struct {
			ClientName string `bson:"client_name"`
			TargetName string `bson:"target_name"`
		}
		if err := value.Unmarshal(&cr); err != nil {
			return Envelope{}, fmt.Errorf("decode ConnectionRequest variant: %w", err)
		}
		data = ConnectionRequest{ClientName: cr.ClientName, TargetName: cr.TargetName}
	case "Response":
		var res Result
		if err := value.Unmarshal(&res); err != nil {
			return Envelope{}, fmt.Errorf("decode Response variant: %w", err)
		}
		data = Response{Result: res}
	case "FdResponse":
		var res Result
		if err := value.Unmarshal(&res); err != nil {
			return Envelope{}, fmt.Errorf("decode FdResponse variant: %w", err)
		}
		data = FdResponse{Result: res}
	default:
		return Envelope{}, fmt.Errorf("decode envelope data: unknown variant %q", elem.Key())
	}

	return Envelope{ID: wire.ID, Data: data}, nil
}
