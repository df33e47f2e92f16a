// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package machine provides a tiny "chain async stages with early exit"
// combinator, used to express bring-up sequences such as connect →
// handshake → ready without a bespoke state enum and switch statement at
// every call site.
package machine

import "context"

// Stage is one step of a chain. It receives the current state and either
// produces the next state to feed into the following stage, or signals that
// the chain is finished (terminal=true) and the chain's Run should stop
// calling further stages.
type Stage func(ctx context.Context, state any) (next any, terminal bool, err error)

// Machine is a chainable sequence of stages, built with Init and Then and
// executed with Run. An error or a terminal stage short-circuits the rest
// of the chain.
type Machine struct {
	state  any
	stages []Stage
}

// Init starts a chain from an initial state.
func Init(state any) *Machine {
	return &Machine{state: state}
}

// Then appends a stage to the chain and returns the same Machine for
// further chaining.
func (m *Machine) Then(stage Stage) *Machine {
	m.stages = append(m.stages, stage)
	return m
}

// Run executes the chain in order. If a stage returns an error, Run returns
// immediately with that error. If a stage marks itself terminal, Run
// returns its state without running the remaining stages.
func (m *Machine) Run(ctx context.Context) (any, error) {
	state := m.state
	for _, stage := range m.stages {
		next, terminal, err := stage(ctx, state)
		if err != nil {
			return nil, err
		}
		state = next
		if terminal {
			return state, nil
		}
	}
	return state, nil
}

// Loop wraps a next state for a stage that wants the chain to continue.
func Loop(next any) (any, bool, error) {
	return next, false, nil
}

// Return wraps a terminal value for a stage that wants the chain to stop.
func Return(final any) (any, bool, error) {
	return final, true, nil
}

// Fail short-circuits the chain with err.
func Fail(err error) (any, bool, error) {
	return nil, true, err
}
