// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HubConfig represents the complete configuration of the rpcbus-hub binary.
type HubConfig struct {
	Socket  SocketConfig  `yaml:"socket"`
	Logging LoggingInfo   `yaml:"logging"`
	Admin   AdminConfig   `yaml:"admin"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// SocketConfig is the AF_UNIX listen/dial address shared by both roles.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// AdminConfig toggles the built-in "admin.stats" endpoint.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MonitorConfig configures the optional monitor-tap recorder.
type MonitorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RecordPath  string `yaml:"record_path"`  // directory the recorder writes rotated segments into
	RotateSize  string `yaml:"rotate_size"`  // e.g. "64mb" (default: "64mb")
	S3Bucket    string `yaml:"s3_bucket"`    // optional, enables archival of rotated segments
	S3Prefix    string `yaml:"s3_prefix"`    // key prefix within the bucket
	S3Region    string `yaml:"s3_region"`    // default: "us-east-1"
	RotateBytes int64  `yaml:"-"`            // parsed from RotateSize by validate()
}

// LoadHubConfig reads and validates the hub's YAML configuration file.
func LoadHubConfig(path string) (*HubConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hub config: %w", err)
	}

	var cfg HubConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing hub config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating hub config: %w", err)
	}

	return &cfg, nil
}

func (c *HubConfig) validate() error {
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Monitor.Enabled {
		if c.Monitor.RecordPath == "" {
			return fmt.Errorf("monitor.record_path is required when monitor is enabled")
		}
		if c.Monitor.RotateSize == "" {
			c.Monitor.RotateSize = "64mb"
		}
		parsed, err := ParseByteSize(c.Monitor.RotateSize)
		if err != nil {
			return fmt.Errorf("monitor.rotate_size: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("monitor.rotate_size must be > 0, got %s", c.Monitor.RotateSize)
		}
		c.Monitor.RotateBytes = parsed

		if c.Monitor.S3Bucket != "" && c.Monitor.S3Region == "" {
			c.Monitor.S3Region = "us-east-1"
		}
	}

	return nil
}
