package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports whether the daemon's listen port accepts connections
type TCPChecker struct {
	Address string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check dials the address once
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return result(start, false, fmt.Sprintf("connection failed: %v", err))
	}
	conn.Close()

	return result(start, true, fmt.Sprintf("%s is accepting connections", t.Address))
}

// Type returns the probe flavor
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
