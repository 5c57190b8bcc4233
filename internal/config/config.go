// Package config holds the validated run configuration shared by the server
// and client modes.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
)

var (
	// ErrNoMode is returned when neither server nor client mode is chosen.
	ErrNoMode = errors.New("either server or client mode must be chosen")

	// ErrBothModes is returned when both modes are chosen at once.
	ErrBothModes = errors.New("server and client modes are mutually exclusive")

	// ErrByteLimitAndDuration is returned when a client run is given both a
	// byte target and a duration.
	ErrByteLimitAndDuration = errors.New("the byte target and the duration are mutually exclusive")
)

// Config is the validated run configuration. Zero values on the optional
// fields mean "not set" and are defaulted by Validate.
type Config struct {
	// Server and Client select the run mode. Exactly one must be set.
	Server bool
	Client bool

	// BindAddr is the IP the server binds. Empty means every interface.
	BindAddr string
	// ServerAddr is the IP the client connects to.
	ServerAddr string
	// Port is the TCP port used by both modes.
	Port int

	// Format selects the unit used to display byte counts.
	Format model.Format

	// ByteLimit stops a client stream after this many payload bytes.
	// Mutually exclusive with Duration.
	ByteLimit int64
	// Duration stops a client stream after this much time.
	Duration time.Duration
	// ReportInterval enables periodic rate reports at this cadence. Zero
	// disables them.
	ReportInterval time.Duration
	// Streams is the number of parallel client connections.
	Streams int

	// DataDir is where the server archives per-connection results. Empty
	// disables archival.
	DataDir string
}

// Validate checks the configuration and fills in defaults. It must be called
// before any socket work.
func (c *Config) Validate() error {
	if !c.Server && !c.Client {
		return ErrNoMode
	}
	if c.Server && c.Client {
		return ErrBothModes
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Format == "" {
		c.Format = model.FormatMB
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("invalid report interval %v", c.ReportInterval)
	}
	if c.Server {
		return nil
	}

	if c.ByteLimit < 0 {
		return fmt.Errorf("invalid byte target %d", c.ByteLimit)
	}
	if c.Duration < 0 {
		return fmt.Errorf("invalid duration %v", c.Duration)
	}
	if c.ByteLimit > 0 && c.Duration > 0 {
		return ErrByteLimitAndDuration
	}
	if c.ByteLimit == 0 && c.Duration == 0 {
		c.Duration = spec.DefaultDuration
	}
	if c.Streams < 1 {
		return fmt.Errorf("invalid parallel connection count %d", c.Streams)
	}
	if c.ServerAddr == "" {
		c.ServerAddr = "127.0.0.1"
	}
	return nil
}

// ListenAddr returns the address the server listens on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// DialAddr returns the address the client connects to.
func (c *Config) DialAddr() string {
	return net.JoinHostPort(c.ServerAddr, strconv.Itoa(c.Port))
}

// ParseSize converts a suffix-encoded byte count ("1000B", "500KB", "10MB")
// into bytes. Multipliers are decimal. The empty string means "not set" and
// parses to zero.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	var mult int64
	var digits string
	switch {
	case strings.HasSuffix(s, "KB"):
		mult, digits = 1000, strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult, digits = 1000*1000, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "B"):
		mult, digits = 1, strings.TrimSuffix(s, "B")
	default:
		return 0, fmt.Errorf("invalid size %q (use B, KB or MB)", s)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q (use B, KB or MB)", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", s)
	}
	return n * mult, nil
}
