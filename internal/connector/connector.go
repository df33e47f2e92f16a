// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package connector provides a reference rpcbus.Connector dialing an
// AF_UNIX socket, with exponential-backoff retry paced by a token-bucket
// rate limiter instead of a hand-rolled timer/doubling loop.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/krossbar-go/rpcbus/internal/rpcbus"
)

// DialConnector implements rpcbus.Connector by dialing socketPath, retrying
// with exponential backoff between minBackoff and maxBackoff.
type DialConnector struct {
	socketPath string
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu          sync.Mutex
	limiter     *rate.Limiter
	curInterval time.Duration

	onConnected func(*rpcbus.Writer) error
}

// NewDialConnector builds a connector that dials socketPath. minBackoff is
// also the initial and post-success retry delay; maxBackoff caps growth.
func NewDialConnector(socketPath string, minBackoff, maxBackoff time.Duration, logger *slog.Logger) *DialConnector {
	if logger == nil {
		logger = slog.Default()
	}
	if minBackoff <= 0 {
		minBackoff = 100 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &DialConnector{
		socketPath:  socketPath,
		minBackoff:  minBackoff,
		maxBackoff:  maxBackoff,
		logger:      logger.With("component", "connector"),
		limiter:     rate.NewLimiter(rate.Every(minBackoff), 1),
		curInterval: minBackoff,
	}
}

// SetOnConnected registers the hook run by OnConnected. Call before handing
// the connector to rpcbus.Drive.
func (c *DialConnector) SetOnConnected(fn func(*rpcbus.Writer) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// Connect dials socketPath, retrying with backoff until it succeeds or ctx
// is done.
func (c *DialConnector) Connect(ctx context.Context) (*net.UnixConn, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("connector: wait for retry slot: %w", err)
		}

		addr := &net.UnixAddr{Name: c.socketPath, Net: "unix"}
		conn, err := net.DialUnix("unix", nil, addr)
		if err == nil {
			c.resetBackoff()
			return conn, nil
		}

		if attempt > 0 {
			c.growBackoff()
		}
		c.logger.Warn("dial failed, backing off", "socket", c.socketPath, "error", err, "retry_in", c.currentInterval())
	}
}

// OnConnected runs the registered hook, if any.
func (c *DialConnector) OnConnected(w *rpcbus.Writer) error {
	c.mu.Lock()
	fn := c.onConnected
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(w)
}

func (c *DialConnector) currentInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curInterval
}

func (c *DialConnector) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curInterval = c.minBackoff
	c.limiter.SetLimit(rate.Every(c.curInterval))
}

func (c *DialConnector) growBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curInterval *= 2
	if c.curInterval > c.maxBackoff {
		c.curInterval = c.maxBackoff
	}
	c.limiter.SetLimit(rate.Every(c.curInterval))
}
