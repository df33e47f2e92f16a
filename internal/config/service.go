// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig represents the complete configuration of the
// rpcbus-service binary.
type ServiceConfig struct {
	Socket    SocketConfig    `yaml:"socket"`
	Client    ClientConfig    `yaml:"client"`
	Logging   LoggingInfo     `yaml:"logging"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// ClientConfig identifies this service; Name is the peer name of its Rpc
// handle.
type ClientConfig struct {
	Name string `yaml:"name"`
}

// ReconnectConfig bounds the reference connector's exponential backoff.
type ReconnectConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"` // default: 100ms
	MaxBackoff time.Duration `yaml:"max_backoff"` // default: 30s
}

// HeartbeatConfig schedules the demo heartbeat publisher.
type HeartbeatConfig struct {
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 5s" (default)
}

// LoadServiceConfig reads and validates the service's YAML configuration
// file.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service config: %w", err)
	}

	var cfg ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing service config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating service config: %w", err)
	}

	return &cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	if c.Client.Name == "" {
		return fmt.Errorf("client.name is required")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Reconnect.MinBackoff <= 0 {
		c.Reconnect.MinBackoff = 100 * time.Millisecond
	}
	if c.Reconnect.MaxBackoff <= 0 {
		c.Reconnect.MaxBackoff = 30 * time.Second
	}
	if c.Reconnect.MaxBackoff < c.Reconnect.MinBackoff {
		return fmt.Errorf("reconnect.max_backoff must be >= reconnect.min_backoff")
	}
	if c.Heartbeat.Schedule == "" {
		c.Heartbeat.Schedule = "@every 5s"
	}

	return nil
}
