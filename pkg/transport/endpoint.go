package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// Default daemon addresses.
const (
	DefaultSocketPath = "/var/run/usbmuxd"
	DefaultTCPAddress = "127.0.0.1:27015"

	// EnvSocketAddress overrides the default endpoint.
	EnvSocketAddress = "USBMUXD_SOCKET_ADDRESS"
)

// Endpoint is a daemon address.
type Endpoint struct {
	Network string // "unix" or "tcp"
	Address string
}

// String returns the endpoint in ParseEndpoint syntax.
func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// DefaultEndpoint returns the endpoint from EnvSocketAddress, or the
// platform default: the unix socket, or loopback TCP on Windows.
func DefaultEndpoint() Endpoint {
	if v := os.Getenv(EnvSocketAddress); v != "" {
		if ep, err := ParseEndpoint(v); err == nil {
			return ep
		}
	}
	return platformEndpoint(runtime.GOOS)
}

func platformEndpoint(goos string) Endpoint {
	if goos == "windows" {
		return Endpoint{Network: "tcp", Address: DefaultTCPAddress}
	}
	return Endpoint{Network: "unix", Address: DefaultSocketPath}
}

// ParseEndpoint parses "unix:/path", "UNIX:/path", "/path", "tcp:host:port"
// or "host:port".
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch {
	case s == "":
		return Endpoint{}, fmt.Errorf("empty endpoint")
	case strings.HasPrefix(lower, "unix:"):
		path := s[len("unix:"):]
		if path == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q: empty socket path", s)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case strings.HasPrefix(s, "/"):
		return Endpoint{Network: "unix", Address: s}, nil
	case strings.HasPrefix(lower, "tcp:"):
		s = s[len("tcp:"):]
	}

	if _, _, err := net.SplitHostPort(s); err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	return Endpoint{Network: "tcp", Address: s}, nil
}

// Dial connects to the daemon.
func Dial(ctx context.Context, ep Endpoint) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, ep.Network, ep.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return New(conn), nil
}
