// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package admin implements the hub's built-in "admin.stats" call endpoint,
// answering with host CPU/memory/disk utilization sampled via gopsutil.
package admin

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/krossbar-go/rpcbus/internal/rpcbus"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Endpoint is the call endpoint name this package answers.
const Endpoint = "admin.stats"

const sampleInterval = 15 * time.Second

// Stats is the BSON document returned by the admin.stats call, matching
// the field names the teacher's ControlStats frame carried.
type Stats struct {
	CPUPercent    float64 `bson:"cpu_percent"`
	MemoryPercent float64 `bson:"memory_percent"`
	DiskPercent   float64 `bson:"disk_percent"`
}

// Monitor collects host stats periodically in the background, so serving a
// call never blocks on a syscall-heavy gopsutil sample.
type Monitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewMonitor creates a Monitor. Call Start to begin sampling.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger.With("component", "admin_monitor"),
		close:  make(chan struct{}),
	}
}

// Start begins periodic sampling in its own goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var s Stats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		s.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		s.DiskPercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

// Handle answers req if it targets Endpoint, returning true when it did.
// The caller's dispatch loop should try Handle before routing a Call
// request elsewhere.
func (m *Monitor) Handle(req *rpcbus.Request) bool {
	if req.Endpoint != Endpoint {
		return false
	}
	if _, ok := req.Body().(rpcbus.CallBody); !ok {
		return false
	}

	res, err := wire.OkResult(m.Stats())
	if err != nil {
		res = wire.ErrResult(wire.InternalErrorf("encoding admin stats: %v", err))
	}
	if err := req.Respond(res); err != nil {
		m.logger.Warn("failed to answer admin.stats call", "error", err)
	}
	return true
}
