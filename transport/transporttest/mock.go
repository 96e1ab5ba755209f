// Package transporttest provides a transport.Transport test double: a
// pair of connected in-memory streams, each wrapped as a Transport,
// optionally with injected per-call latency to exercise interleaving and
// timing-sensitive handover paths that a zero-latency transport never
// triggers.
package transporttest

import (
	"math/rand"
	"net"
	"time"

	"github.com/xtaci/seamhand/transport"
)

// Options configures a mock transport pair.
type Options struct {
	// MinLatency and MaxLatency bound a uniform random delay injected
	// before each Read and Write. Both zero (the default) disables
	// jitter entirely.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// Pair returns two Transports backed by a connected net.Pipe, both ends
// sharing id and label.
func Pair(id uint16, label string, opts Options) (a, b transport.Transport) {
	connA, connB := net.Pipe()
	return transport.FromConn(&jitterConn{Conn: connA, opts: opts}, id, label),
		transport.FromConn(&jitterConn{Conn: connB, opts: opts}, id, label)
}

type jitterConn struct {
	net.Conn
	opts Options
}

func (c *jitterConn) Read(p []byte) (int, error) {
	c.delay()
	return c.Conn.Read(p)
}

func (c *jitterConn) Write(p []byte) (int, error) {
	c.delay()
	return c.Conn.Write(p)
}

func (c *jitterConn) delay() {
	if c.opts.MaxLatency <= c.opts.MinLatency {
		return
	}
	span := c.opts.MaxLatency - c.opts.MinLatency
	time.Sleep(c.opts.MinLatency + time.Duration(rand.Int63n(int64(span))))
}
