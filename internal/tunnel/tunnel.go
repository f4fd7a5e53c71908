package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Tunnel is one public exposure of a local address. Values are never mutated;
// a new tunnel is a new value.
type Tunnel struct {
	PublicURL string
	LocalAddr string
}

// IsZero reports whether t is the empty tunnel.
func (t Tunnel) IsZero() bool {
	return t.PublicURL == ""
}

// Backend opens and closes public endpoints on the tunneling service.
// Implementations must be safe for concurrent use.
type Backend interface {
	Open(ctx context.Context, addr string) (Tunnel, error)
	Close(ctx context.Context, publicURL string) error
	List(ctx context.Context) ([]Tunnel, error)
}

const defaultHost = "localhost"

// ParseAddr validates an operator supplied port or host:port and returns the
// normalized host:port the backend should forward to.
func ParseAddr(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", &ArgumentError{Arg: arg, Reason: "missing port"}
	}

	host, port := defaultHost, arg
	if strings.Contains(arg, ":") {
		h, p, err := net.SplitHostPort(arg)
		if err != nil {
			return "", &ArgumentError{Arg: arg, Reason: err.Error()}
		}
		if h != "" {
			host = h
		}
		port = p
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", &ArgumentError{Arg: arg, Reason: fmt.Sprintf("port must be between 1 and 65535, got %q", port)}
	}

	return net.JoinHostPort(host, strconv.Itoa(n)), nil
}

// PortAddr returns the local address for a bare port number.
func PortAddr(port int) string {
	return net.JoinHostPort(defaultHost, strconv.Itoa(port))
}
