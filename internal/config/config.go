// Package config loads the usbmux CLI configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/usbmux-protocol/usbmux-go/pkg/connection"
	"github.com/usbmux-protocol/usbmux-go/pkg/log"
	"github.com/usbmux-protocol/usbmux-go/pkg/transport"
)

// DefaultTimeout bounds dialing and negotiation with the daemon.
const DefaultTimeout = 5 * time.Second

// DefaultRelayHost is used when a relay's local address has no host.
const DefaultRelayHost = "127.0.0.1"

// Config is the CLI configuration.
type Config struct {
	// Socket is the daemon address in transport.ParseEndpoint syntax.
	// Empty selects transport.DefaultEndpoint().
	Socket string `yaml:"socket"`

	LogLevel string `yaml:"log_level"`

	// ProtocolLog is a capture file path. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`

	// Capture controls how ProtocolLog is written.
	Capture CaptureOptions `yaml:"capture"`

	Timeout time.Duration `yaml:"timeout"`

	Relays []Relay      `yaml:"relays"`
	Watch  WatchOptions `yaml:"watch"`
}

// Relay is one forwarded port.
type Relay struct {
	Serial string `yaml:"serial"`
	Local  string `yaml:"local"`
	Port   uint16 `yaml:"port"`
}

// WatchOptions configures redials of the roster watcher.
type WatchOptions struct {
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// CaptureOptions configures the protocol capture file.
type CaptureOptions struct {
	// Truncate starts a fresh file on each run instead of appending.
	Truncate bool `yaml:"truncate"`

	// Mode is the permission of a new file, e.g. 0o600.
	Mode uint32 `yaml:"mode"`

	// FlushEvery buffers this many events between writes.
	FlushEvery int `yaml:"flush_every"`
}

// FileOptions returns the capture file options.
func (c CaptureOptions) FileOptions() log.FileOptions {
	return log.FileOptions{
		Truncate:   c.Truncate,
		Mode:       os.FileMode(c.Mode),
		FlushEvery: c.FlushEvery,
	}
}

// LoadError reports a configuration that cannot be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Timeout:  DefaultTimeout,
		Watch: WatchOptions{
			BackoffInitial: connection.InitialBackoff,
			BackoffMax:     connection.MaxBackoff,
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &LoadError{Message: "invalid log_level", Cause: err}
	}
	if c.Socket != "" {
		if _, err := transport.ParseEndpoint(c.Socket); err != nil {
			return &LoadError{Message: "invalid socket", Cause: err}
		}
	}
	if c.Timeout < 0 {
		return &LoadError{Message: fmt.Sprintf("timeout must not be negative, got %s", c.Timeout)}
	}
	for i := range c.Relays {
		r := &c.Relays[i]
		if r.Port == 0 {
			return &LoadError{Message: fmt.Sprintf("relays[%d]: port is required", i)}
		}
		local, err := normalizeLocal(r.Local, r.Port)
		if err != nil {
			return &LoadError{Message: fmt.Sprintf("relays[%d]: invalid local address", i), Cause: err}
		}
		r.Local = local
	}
	if c.Capture.FlushEvery < 0 {
		return &LoadError{Message: "capture.flush_every must not be negative"}
	}
	if c.Capture.Mode&^uint32(os.ModePerm) != 0 {
		return &LoadError{Message: fmt.Sprintf("capture.mode %#o is not a permission", c.Capture.Mode)}
	}
	if c.Watch.BackoffMax > 0 && c.Watch.BackoffInitial > c.Watch.BackoffMax {
		return &LoadError{Message: "watch.backoff_initial exceeds watch.backoff_max"}
	}
	return nil
}

// Endpoint returns the daemon endpoint.
func (c *Config) Endpoint() (transport.Endpoint, error) {
	if c.Socket == "" {
		return transport.DefaultEndpoint(), nil
	}
	return transport.ParseEndpoint(c.Socket)
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// Backoff returns the watcher backoff settings.
func (w WatchOptions) Backoff() connection.BackoffConfig {
	return connection.BackoffConfig{Initial: w.BackoffInitial, Max: w.BackoffMax}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
}

// ParseRelay parses a relay flag of the form DEVICEPORT[:LOCAL][@SERIAL],
// e.g. "22", "22:2222", "62078:127.0.0.1:62078@abc123".
// LOCAL defaults to the device port on DefaultRelayHost.
func ParseRelay(s string) (Relay, error) {
	var r Relay
	if i := strings.LastIndex(s, "@"); i >= 0 {
		r.Serial = s[i+1:]
		s = s[:i]
	}
	portStr, local, _ := strings.Cut(s, ":")
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Relay{}, fmt.Errorf("relay %q: invalid device port", s)
	}
	r.Port = uint16(port)

	r.Local, err = normalizeLocal(local, r.Port)
	if err != nil {
		return Relay{}, fmt.Errorf("relay %q: %w", s, err)
	}
	return r, nil
}

// normalizeLocal turns "", "PORT" or "HOST:PORT" into HOST:PORT.
func normalizeLocal(local string, devicePort uint16) (string, error) {
	switch {
	case local == "":
		return net.JoinHostPort(DefaultRelayHost, strconv.Itoa(int(devicePort))), nil
	case !strings.Contains(local, ":"):
		if _, err := strconv.ParseUint(local, 10, 16); err != nil {
			return "", fmt.Errorf("invalid local port %q", local)
		}
		return net.JoinHostPort(DefaultRelayHost, local), nil
	}
	if _, _, err := net.SplitHostPort(local); err != nil {
		return "", err
	}
	return local, nil
}
