// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/krossbar-go/rpcbus/internal/config"
	"github.com/krossbar-go/rpcbus/internal/connector"
	"github.com/krossbar-go/rpcbus/internal/heartbeat"
	"github.com/krossbar-go/rpcbus/internal/logging"
	"github.com/krossbar-go/rpcbus/internal/machine"
	"github.com/krossbar-go/rpcbus/internal/rpcbus"
)

func main() {
	configPath := flag.String("config", "/etc/rpcbus/service.yaml", "path to service config file")
	flag.Parse()

	cfg, err := config.LoadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}

// dialStage connects to the hub, short-circuiting the bring-up chain on
// failure.
func dialStage(dial *connector.DialConnector, socketPath string) machine.Stage {
	return func(ctx context.Context, state any) (any, bool, error) {
		conn, err := dial.Connect(ctx)
		if err != nil {
			return machine.Fail(fmt.Errorf("initial connect to %s: %w", socketPath, err))
		}
		return machine.Loop(conn)
	}
}

// bindStage wraps the dialed connection in an Rpc handle, the chain's
// terminal state.
func bindStage(clientName string, logger *slog.Logger) machine.Stage {
	return func(ctx context.Context, state any) (any, bool, error) {
		rpc := rpcbus.New(state.(*net.UnixConn), clientName, logger)
		return machine.Return(rpc)
	}
}

func run(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) error {
	dial := connector.NewDialConnector(cfg.Socket.Path, cfg.Reconnect.MinBackoff, cfg.Reconnect.MaxBackoff, logger)

	result, err := machine.Init(nil).
		Then(dialStage(dial, cfg.Socket.Path)).
		Then(bindStage(cfg.Client.Name, logger)).
		Run(ctx)
	if err != nil {
		return err
	}
	rpc := result.(*rpcbus.Rpc)
	logger.Info("connected to hub", "socket", cfg.Socket.Path)

	hb := &heartbeatKeeper{schedule: cfg.Heartbeat.Schedule, logger: logger}
	defer hb.stop()

	dial.SetOnConnected(func(w *rpcbus.Writer) error {
		logger.Info("reconnected to hub")
		return nil
	})

	handle := func(req *rpcbus.Request) {
		switch req.Body().(type) {
		case rpcbus.SubscriptionBody:
			if req.Endpoint == heartbeat.Endpoint {
				hb.replace(req)
				return
			}
			logger.Warn("no handler for subscription", "endpoint", req.Endpoint)
		case rpcbus.CallBody:
			logger.Warn("no handler for call", "endpoint", req.Endpoint)
		case rpcbus.MessageBody:
			logger.Debug("message", "endpoint", req.Endpoint)
		case rpcbus.ConnectBody:
			logger.Debug("connection request", "endpoint", req.Endpoint)
		}
	}

	err = rpcbus.Drive(ctx, rpc, dial, handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// heartbeatKeeper owns the single live heartbeat.Scheduler for the current
// connection, stopping the previous one whenever the hub reopens its
// subscription after a reconnect.
type heartbeatKeeper struct {
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	current *heartbeat.Scheduler
}

func (k *heartbeatKeeper) replace(req *rpcbus.Request) {
	sched, err := heartbeat.NewScheduler(req, k.schedule, k.logger)
	if err != nil {
		k.logger.Error("failed to start heartbeat scheduler", "error", err)
		return
	}

	k.mu.Lock()
	prev := k.current
	k.current = sched
	k.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	sched.Start()
}

func (k *heartbeatKeeper) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current != nil {
		k.current.Stop()
	}
}
