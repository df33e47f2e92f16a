// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/krossbar-go/rpcbus/internal/admin"
	"github.com/krossbar-go/rpcbus/internal/config"
	"github.com/krossbar-go/rpcbus/internal/connector"
	"github.com/krossbar-go/rpcbus/internal/heartbeat"
	"github.com/krossbar-go/rpcbus/internal/logging"
	"github.com/krossbar-go/rpcbus/internal/recorder"
	"github.com/krossbar-go/rpcbus/internal/rpcbus"
)

func main() {
	configPath := flag.String("config", "/etc/rpcbus/hub.yaml", "path to hub config file")
	flag.Parse()

	cfg, err := config.LoadHubConfig(*configPath)
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
		logger.Error("hub error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.HubConfig, logger *slog.Logger) error {
	var mon *admin.Monitor
	if cfg.Admin.Enabled {
		mon = admin.NewMonitor(logger)
		mon.Start()
		defer mon.Stop()
	}

	if cfg.Monitor.Enabled {
		rec, err := buildRecorder(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("starting monitor recorder: %w", err)
		}
		if err := rec.Start(); err != nil {
			return fmt.Errorf("starting monitor recorder: %w", err)
		}
		defer rec.Stop()
	}

	listener, err := connector.Listen(cfg.Socket.Path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Socket.Path, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger.Info("hub listening", "socket", cfg.Socket.Path)

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		wg.Add(1)
		go func(c *net.UnixConn) {
			defer wg.Done()
			serveConn(ctx, c, mon, logger, cfg.Logging.PeerLogDir)
		}(conn)
	}
}

// generateConnectionID returns a random RFC 4122 version-4 UUID used to
// namespace one connection's peer log file.
func generateConnectionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

func buildRecorder(ctx context.Context, cfg *config.HubConfig, logger *slog.Logger) (*recorder.Recorder, error) {
	var archiver recorder.Archiver
	if cfg.Monitor.S3Bucket != "" {
		s3Archiver, err := recorder.NewS3Archiver(ctx, cfg.Monitor.S3Bucket, cfg.Monitor.S3Prefix, cfg.Monitor.S3Region)
		if err != nil {
			return nil, fmt.Errorf("building s3 archiver: %w", err)
		}
		archiver = s3Archiver
	}
	return recorder.New(cfg.Monitor.RecordPath, cfg.Monitor.RotateBytes, archiver, logger)
}

// serveConn drives one connected service's Rpc until it disconnects,
// answering the built-in admin endpoint and subscribing to its heartbeat.
func serveConn(ctx context.Context, conn *net.UnixConn, mon *admin.Monitor, logger *slog.Logger, peerLogDir string) {
	defer conn.Close()

	peerName := conn.RemoteAddr().String()
	connID := generateConnectionID()

	connLogger, peerLog, _, err := logging.NewPeerLogger(logger, peerLogDir, peerName, connID)
	if err != nil {
		logger.Warn("starting peer log", "peer", peerName, "error", err)
		connLogger = logger.With("peer", peerName)
		peerLog = nil
	}
	defer func() {
		if peerLog != nil {
			peerLog.Close()
		}
	}()

	rpc := rpcbus.New(conn, peerName, connLogger)
	connLogger.Info("service connected", "connection_id", connID)

	sub := rpcbus.Subscribe[heartbeat.Tick](rpc.Writer(), rpc.Registry(), heartbeat.Endpoint)
	go func() {
		for {
			tick, err := sub.Next(ctx)
			if err != nil {
				return
			}
			connLogger.Debug("heartbeat", "sequence", tick.Sequence, "at", tick.Timestamp)
		}
	}()

	for {
		req, err := rpc.Poll()
		if err != nil {
			connLogger.Info("service disconnected", "error", err)
			sub.Close()
			logging.RemovePeerLog(peerLogDir, peerName, connID)
			return
		}

		if mon != nil && mon.Handle(req) {
			continue
		}

		switch req.Body().(type) {
		case rpcbus.CallBody:
			connLogger.Warn("no handler for call", "endpoint", req.Endpoint)
		case rpcbus.MessageBody:
			connLogger.Debug("message", "endpoint", req.Endpoint)
		case rpcbus.SubscriptionBody:
			connLogger.Debug("subscription request", "endpoint", req.Endpoint)
		case rpcbus.ConnectBody:
			connLogger.Debug("connection request", "endpoint", req.Endpoint)
		}
	}
}
