// Package config validates and defaults the broker's configuration, per
// spec.md §6. Grounded on ChuLiYu-raft-recovery/internal/cli.go's Config
// struct (yaml-tagged fields, a loadConfig helper) for the optional file
// form; the CLI's flags remain the primary and required surface.
package config

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ido50/Net-Server-ZMQ/internal/app"
)

// Config is the fully-resolved, validated configuration for one broker
// run.
type Config struct {
	FrontendPort int `yaml:"frontend_port"`
	BackendPort  int `yaml:"backend_port"`

	MinServers           int `yaml:"min_servers"`
	MaxServers           int `yaml:"max_servers"`
	MinSpareServers      int `yaml:"min_spare_servers"`
	MaxSpareServers      int `yaml:"max_spare_servers"`
	MaxRequestsPerWorker int `yaml:"max_requests_per_worker"`

	User  string `yaml:"user"`
	Group string `yaml:"group"`

	LogLevel string `yaml:"log_level"`

	CheckForWaiting time.Duration `yaml:"check_for_waiting"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	MalformedBurst  int           `yaml:"malformed_burst"`

	MetricsAddr string `yaml:"metrics_addr"`

	// App is not part of the file/flag surface; it is set by whatever
	// embeds this package (the CLI defaults it to app.Echo).
	App app.Handler `yaml:"-"`
}

// Error is a configuration validation failure. The CLI maps it to exit
// code 1 per spec.md §6.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "config: " + e.Reason }

// RuntimeError is a runtime-fatal failure discovered after configuration
// validated cleanly — a bind failure, or a worker pool that could not be
// forked at all. The CLI maps it to exit code 2 per spec.md §6, distinct
// from Error's exit code 1.
type RuntimeError struct {
	Reason string
}

func (e *RuntimeError) Error() string { return "zmqbroker: " + e.Reason }

// Default returns a Config with every field at its spec.md default:
// echo app, effective uid/gid, one server, spare-server bounds of zero
// to one idle worker. Ports are left unset.
func Default() (*Config, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("config: resolve current user: %w", err)
	}
	group := u.Gid
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		group = g.Name
	}

	return &Config{
		MinServers:           1,
		MaxServers:           1,
		MinSpareServers:      0,
		MaxSpareServers:      1,
		MaxRequestsPerWorker: 0,
		User:                 u.Username,
		Group:                group,
		LogLevel:             "3",
		CheckForWaiting:      1 * time.Second,
		DrainTimeout:         5 * time.Second,
		MalformedBurst:       50,
		App:                  app.Echo,
	}, nil
}

// LoadFile merges a YAML file's fields into cfg. Fields present in the
// file overwrite cfg's current values; the CLI applies this before
// copying explicitly set flag values into cfg, so flags always win.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate enforces spec.md §6's configuration invariants.
func (c *Config) Validate() error {
	if c.App == nil {
		return &Error{"application callback must be set"}
	}
	if c.FrontendPort <= 0 || c.FrontendPort > 65535 {
		return &Error{fmt.Sprintf("frontend port %d out of range", c.FrontendPort)}
	}
	if c.BackendPort <= 0 || c.BackendPort > 65535 {
		return &Error{fmt.Sprintf("backend port %d out of range", c.BackendPort)}
	}
	if c.FrontendPort == c.BackendPort {
		return &Error{"frontend and backend ports must be distinct"}
	}
	if c.MinServers < 1 {
		return &Error{"min_servers must be at least 1"}
	}
	if c.MaxServers < c.MinServers {
		return &Error{"max_servers must be >= min_servers"}
	}
	if c.MinSpareServers < 0 || c.MaxSpareServers < c.MinSpareServers {
		return &Error{"spare server bounds are inconsistent"}
	}
	if _, err := user.Lookup(c.User); err != nil {
		return &Error{fmt.Sprintf("unknown user %q: %v", c.User, err)}
	}
	if _, err := user.LookupGroup(c.Group); err != nil {
		return &Error{fmt.Sprintf("unknown group %q: %v", c.Group, err)}
	}
	return nil
}
