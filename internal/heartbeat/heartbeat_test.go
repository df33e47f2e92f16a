// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/krossbar-go/rpcbus/internal/rpcbus"
	"github.com/krossbar-go/rpcbus/internal/testutil"
)

func TestScheduler_PublishesTicks(t *testing.T) {
	left, right, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer left.Close()
	defer right.Close()

	hub := rpcbus.New(left, "hub", nil)
	service := rpcbus.New(right, "service", nil)

	// The hub's Poll loop routes each published tick to the subscription.
	go func() {
		for {
			if _, err := hub.Poll(); err != nil {
				return
			}
		}
	}()

	sub := rpcbus.Subscribe[Tick](hub.Writer(), hub.Registry(), Endpoint)

	req, err := service.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, ok := req.Body().(rpcbus.SubscriptionBody); !ok {
		t.Fatalf("expected a subscription request, got %T", req.Body())
	}

	sched, err := NewScheduler(req, "@every 10ms", nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second.Sequence <= first.Sequence {
		t.Errorf("expected increasing sequence numbers, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	left, right, err := testutil.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer left.Close()
	defer right.Close()

	hub := rpcbus.New(left, "hub", nil)
	_ = rpcbus.Subscribe[Tick](hub.Writer(), hub.Registry(), Endpoint)

	service := rpcbus.New(right, "service", nil)
	req, err := service.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if _, err := NewScheduler(req, "not a cron spec", nil); err == nil {
		t.Fatal("expected an error for an invalid cron spec")
	}
}
