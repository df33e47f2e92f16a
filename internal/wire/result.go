// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wire

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MarshalBSONValue renders unit-variant kinds as a bare string and
// detail-bearing kinds as a single-key document, e.g. {"ParamsTypeError":
// "detail text"}. This mirrors the default external tagging a Rust enum
// gets from serde, which the wire contract is built around.
func (e *Error) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if e == nil {
		return bson.MarshalValue(nil)
	}
	if !detailedKinds[e.Kind] {
		return bson.MarshalValue(string(e.Kind))
	}
	return bson.MarshalValue(bson.D{{Key: string(e.Kind), Value: e.Detail}})
}

// UnmarshalBSONValue accepts either a bare string (unit variant) or a
// single-key document (detailed variant).
func (e *Error) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		e.Kind = Kind(raw.StringValue())
		e.Detail = ""
		return nil
	case bsontype.EmbeddedDocument:
		var doc bson.D
		if err := raw.Unmarshal(&doc); err != nil {
			return fmt.Errorf("decode detailed error variant: %w", err)
		}
		if len(doc) != 1 {
			return fmt.Errorf("decode detailed error variant: expected exactly one key, got %d", len(doc))
		}
		detail, ok := doc[0].Value.(string)
		if !ok {
			return fmt.Errorf("decode detailed error variant: detail value is not a string")
		}
		e.Kind = Kind(doc[0].Key)
		e.Detail = detail
		return nil
	default:
		return fmt.Errorf("decode error variant: unexpected bson type %s", t)
	}
}

// Result is the wire representation of Rust's `result<bson>`: either an Ok
// payload or a structured Error, never both.
type Result struct {
	Ok  bson.RawValue
	Err *Error
}

// OkResult encodes v as the success payload of a Result.
func OkResult(v any) (Result, error) {
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return Result{}, ResultTypeError(err)
	}
	return Result{Ok: bson.RawValue{Type: t, Value: data}}, nil
}

// ErrResult wraps a wire error as a failed Result.
func ErrResult(err *Error) Result {
	return Result{Err: err}
}

// Decode unwraps a successful Result into out, or returns the carried error.
func (r Result) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	if err := r.Ok.Unmarshal(out); err != nil {
		return ResultTypeError(err)
	}
	return nil
}

// MarshalBSONValue renders the Result as {"Ok": value} or {"Err": errDoc}.
func (r Result) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if r.Err != nil {
		return bson.MarshalValue(bson.D{{Key: "Err", Value: r.Err}})
	}
	return bson.MarshalValue(bson.D{{Key: "Ok", Value: r.Ok}})
}

// UnmarshalBSONValue parses a single-key {"Ok": ...} or {"Err": ...} document.
func (r *Result) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t != bsontype.EmbeddedDocument {
		return fmt.Errorf("decode result: expected document, got %s", t)
	}
	raw := bson.Raw(data)
	elems, err := raw.Elements()
	if err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if len(elems) != 1 {
		return fmt.Errorf("decode result: expected exactly one key, got %d", len(elems))
	}
	elem := elems[0]
	key := elem.Key()
	value := elem.Value()
	switch key {
	case "Ok":
		r.Ok = bson.RawValue{Type: value.Type, Value: value.Value}
		r.Err = nil
	case "Err":
		var e Error
		if err := e.UnmarshalBSONValue(value.Type, value.Value); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		r.Err = &e
		r.Ok = bson.RawValue{}
	default:
		return fmt.Errorf("decode result: unknown key %q", key)
	}
	return nil
}
