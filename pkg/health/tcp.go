package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker reports an instance healthy when its address accepts a TCP
// connection. The connection is closed immediately; only reachability
// and round-trip time are observed.
type TCPChecker struct {
	addr    string
	timeout time.Duration
}

// NewTCPChecker creates a TCP checker for addr ("ip:port").
func NewTCPChecker(addr string) *TCPChecker {
	return &TCPChecker{addr: addr, timeout: 5 * time.Second}
}

// WithTimeout overrides the default 5s dial timeout.
func (t *TCPChecker) WithTimeout(d time.Duration) *TCPChecker {
	t.timeout = d
	return t
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return Result{Message: "dial " + t.addr + ": " + err.Error(), RTT: time.Since(start)}
	}
	conn.Close()
	return Result{Healthy: true, Message: "connected to " + t.addr, RTT: time.Since(start)}
}

func (t *TCPChecker) Type() string { return "tcp" }
