package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports whether the service accepts connections. It backs
// the readiness endpoint, where an open port is enough and a full HTTP
// round trip is not wanted.
type TCPChecker struct {
	Address string        // host:port, e.g. 127.0.0.1:3000
	Timeout time.Duration // Bounds the dial
}

// NewTCPChecker creates a checker with a 5s dial timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check dials once and reports the connect latency in milliseconds as the
// value
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	conn, err := (&net.Dialer{Timeout: t.Timeout}).DialContext(ctx, "tcp", t.Address)
	elapsed := time.Since(start)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("%s not accepting connections: %v", t.Address, err),
			CheckedAt: start,
			Duration:  elapsed,
		}
	}
	_ = conn.Close()

	latency := float64(elapsed.Microseconds()) / 1000
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepted connection in %.1fms", t.Address, latency),
		Value:     &latency,
		CheckedAt: start,
		Duration:  elapsed,
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the dial timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
