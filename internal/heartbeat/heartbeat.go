// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package heartbeat schedules a demo "heartbeat" Subscription publisher on a
// cron expression, exercising persistent-call replay across reconnect end to
// end instead of a hand-fed test sequence.
package heartbeat

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/krossbar-go/rpcbus/internal/rpcbus"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Endpoint is the subscription endpoint name the scheduler answers.
const Endpoint = "heartbeat"

// Tick is the payload delivered on every heartbeat.
type Tick struct {
	Sequence  uint64    `bson:"sequence"`
	Timestamp time.Time `bson:"timestamp"`
}

// Scheduler answers a "heartbeat" SubscriptionBody request by Respond-ing a
// Tick on a cron schedule. One Scheduler serves exactly one subscriber; the
// service's dispatch loop creates one per incoming subscription request.
type Scheduler struct {
	cron   *cron.Cron
	req    *rpcbus.Request
	logger *slog.Logger
	seq    uint64
}

// NewScheduler builds a Scheduler that answers req (a "heartbeat"
// SubscriptionBody request) on the given cron spec (e.g. "@every 5s").
func NewScheduler(req *rpcbus.Request, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "heartbeat")

	s := &Scheduler{req: req, logger: logger}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	s.cron = c
	return s, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("heartbeat scheduler started")
	s.cron.Start()
}

// Stop stops the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("heartbeat scheduler stopping")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	s.seq++
	tick := Tick{Sequence: s.seq, Timestamp: time.Now()}

	res, err := wire.OkResult(tick)
	if err != nil {
		s.logger.Warn("failed to encode heartbeat tick", "error", err)
		return
	}
	if err := s.req.Respond(res); err != nil {
		s.logger.Warn("failed to publish heartbeat tick", "error", err)
	}
}
