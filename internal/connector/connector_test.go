// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package connector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/krossbar-go/rpcbus/internal/rpcbus"
)

func TestDialConnector_ConnectsOnceListenerIsUp(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "test.sock")

	c := NewDialConnector(sock, 10*time.Millisecond, 100*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		l, err := Listen(sock)
		for err != nil {
			time.Sleep(5 * time.Millisecond)
			l, err = Listen(sock)
		}
		defer l.Close()
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
	<-done
}

func TestDialConnector_ContextCancel(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "nope.sock")

	c := NewDialConnector(sock, 10*time.Millisecond, 20*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Connect(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestDialConnector_OnConnectedHook(t *testing.T) {
	c := NewDialConnector("/irrelevant", time.Millisecond, time.Millisecond, nil)
	called := false
	c.SetOnConnected(func(w *rpcbus.Writer) error {
		called = true
		return nil
	})
	if err := c.OnConnected(nil); err != nil {
		t.Fatalf("OnConnected: %v", err)
	}
	if !called {
		t.Error("expected hook to be invoked")
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "stale.sock")
	if err := os.WriteFile(sock, []byte("not a socket"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := Listen(sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	l.Close()
}
