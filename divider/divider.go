// Package divider implements the multiplexer that splits one Transport
// into two independent sub-channels — a data sub-channel and a control
// sub-channel — each itself a Transport, by tagging every frame written
// to the underlying transport with which sub-channel it belongs to.
//
// One goroutine demultiplexes inbound tagged frames onto the two
// children's inbound pipes, and one goroutine per child serializes that
// child's outbound bytes into tagged frames on the shared transport. Each
// child is backed by an internal/bufpipe.Pipe pair, the same building
// block transport.FromConn uses, so TryRead/TryWrite on a child never
// block while holding its pipe's lock.
package divider

import (
	stderrors "errors"
	"io"
	"sync"

	"github.com/xtaci/seamhand/internal/bufpipe"
	"github.com/xtaci/seamhand/transport"
	"github.com/xtaci/seamhand/wire"
	"go.uber.org/zap"
)

const childPipeCapacity = 32 * 1024

// Option configures Divide. The zero value uses a no-op logger.
type Option func(*divider)

// WithLogger attaches a structured logger for forwarder diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(d *divider) { d.log = logger }
}

// Divide splits t into a data sub-channel and a control sub-channel. Both
// returned Transports share t's ID and Label, keeping the identity of the
// channel they came from. Dropping one child — never reading or writing
// it again — does not disturb the other; only a failure of the
// underlying transport, or a malformed frame on it, tears both down.
func Divide(t transport.Transport, opts ...Option) (data, control transport.Transport) {
	d := &divider{
		transport: t,
		data:      newChild(t.ID(), t.Label()),
		control:   newChild(t.ID(), t.Label()),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.forwardReads()
	go d.forwardWrites(d.data, wire.KindData)
	go d.forwardWrites(d.control, wire.KindControl)
	return d.data, d.control
}

type divider struct {
	transport transport.Transport
	log       *zap.Logger

	data    *child
	control *child

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// forwardReads is the sole reader of the underlying transport. It
// demultiplexes each tagged frame onto the matching child's inbound pipe;
// a zero-length frame is that child's half-close signal.
func (d *divider) forwardReads() {
	for {
		kind, payload, err := wire.ReadFrame(d.transport)
		if err != nil {
			werr := protocolOrTransportErr(err)
			d.log.Debug("divider: forwarder read failed", zap.Uint16("id", d.transport.ID()), zap.Error(werr))
			d.teardown(werr)
			return
		}

		c := d.childFor(kind)
		if len(payload) == 0 {
			c.in.CloseWrite()
			continue
		}
		if _, err := c.in.Write(payload); err != nil {
			d.teardown(err)
			return
		}
	}
}

// forwardWrites drains c's outbound pipe and frames each chunk onto the
// shared transport, tagged with kind. One of these runs per child so
// neither child's writer blocks waiting on the other; writes to the
// shared transport are serialized by writeMu so a frame header is never
// interleaved with another frame's payload.
func (d *divider) forwardWrites(c *child, kind wire.FrameKind) {
	buf := make([]byte, childPipeCapacity)
	for {
		n, err := c.out.Read(buf)
		if n > 0 {
			if werr := d.writeFrame(kind, buf[:n]); werr != nil {
				d.teardown(werr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				if werr := d.writeFrame(kind, nil); werr != nil {
					d.teardown(werr)
				}
				return
			}
			d.teardown(err)
			return
		}
	}
}

func (d *divider) writeFrame(kind wire.FrameKind, payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return wire.WriteFrame(d.transport, kind, payload)
}

func (d *divider) childFor(kind wire.FrameKind) *child {
	if kind == wire.KindControl {
		return d.control
	}
	return d.data
}

func (d *divider) teardown(err error) {
	d.closeOnce.Do(func() {
		d.data.in.Close(err)
		d.data.out.Close(err)
		d.control.in.Close(err)
		d.control.out.Close(err)
		_ = d.transport.Shutdown()
	})
}

func protocolOrTransportErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}
	if stderrors.Is(err, wire.ErrMalformed) {
		return transport.NewProtocolError("divider: read frame", err)
	}
	return transport.NewTransportError("divider: read frame", err)
}

// child is one half of a divided channel: a Transport backed by two
// bufpipes, one for data arriving from the underlying transport (in) and
// one for data waiting to be sent over it (out).
type child struct {
	id    uint16
	label string
	in    *bufpipe.Pipe
	out   *bufpipe.Pipe
}

func newChild(id uint16, label string) *child {
	return &child{
		id:    id,
		label: label,
		in:    bufpipe.New(childPipeCapacity),
		out:   bufpipe.New(childPipeCapacity),
	}
}

func (c *child) Read(p []byte) (int, error) {
	n, err := c.in.Read(p)
	if err == bufpipe.ErrInterrupted {
		return n, transport.ErrInterrupted
	}
	return n, err
}

func (c *child) TryRead(p []byte) (int, error) {
	n, err := c.in.TryRead(p)
	if err == bufpipe.ErrWouldBlock {
		return n, transport.ErrWouldBlock
	}
	return n, err
}

func (c *child) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *child) TryWrite(p []byte) (int, error) {
	n, err := c.out.TryWrite(p)
	if err == bufpipe.ErrWouldBlock {
		return n, transport.ErrWouldBlock
	}
	return n, err
}

func (c *child) Flush() error { return nil }

// InterruptRead wakes any goroutine blocked in Read without delivering
// data. The coordinator uses this on the data sub-channel at handover
// (and on failure) to re-poll a facade parked on the primary transport.
func (c *child) InterruptRead() { c.in.Interrupt() }

func (c *child) Shutdown() error {
	return c.out.CloseWrite()
}

func (c *child) ID() uint16    { return c.id }
func (c *child) Label() string { return c.label }

var _ transport.Transport = (*child)(nil)
