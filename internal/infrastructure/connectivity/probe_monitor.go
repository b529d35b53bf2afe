package connectivity

import (
	"context"
	"net"
	"time"

	"chatsync/pkg/logger"
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProbeMonitor decides reachability by periodically opening a TCP
// connection to the feed backend. Only changes are published.
type ProbeMonitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	hub      *hub
}

func NewProbeMonitor(addr string, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := interval / 2
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	d := &net.Dialer{}
	return &ProbeMonitor{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		dial:     d.DialContext,
		hub:      newHub(),
	}
}

// WithDialer replaces the dialer, for tests.
func (p *ProbeMonitor) WithDialer(dial DialFunc) *ProbeMonitor {
	p.dial = dial
	return p
}

func (p *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	return p.hub.subscribe(fn)
}

// Online reports the last reading and whether there has been one.
func (p *ProbeMonitor) Online() (online bool, known bool) {
	return p.hub.current()
}

// Run probes immediately and then every interval until ctx is done.
func (p *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe performs one reachability check and publishes the result if it
// differs from the previous one.
func (p *ProbeMonitor) Probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.addr)
	online := err == nil
	if conn != nil {
		conn.Close()
	}
	if ctx.Err() != nil {
		return online
	}

	if prev, known := p.hub.current(); !known || prev != online {
		if online {
			logger.Info("Connectivity: %s reachable", p.addr)
		} else {
			logger.Warn("Connectivity: %s unreachable: %v", p.addr, err)
		}
	}
	p.hub.publish(online, true)
	return online
}
