// Package coordinator implements the upgrade handshake: a symmetric
// three-message exchange that, running on both endpoints over a control
// sub-channel, decides exactly when each side stops using its primary
// transport and switches to a newly supplied upgrade transport, with no
// byte lost, duplicated, or reordered.
//
// The event loop is a select over three event sources — an upgrade
// transport arriving, bytes draining off the upgrade transport's reader
// ahead of publication, and a control message arriving — with Sync
// emitted as soon as a writer exists and hasn't been sent yet.
package coordinator

import (
	"sync"
	"time"

	"github.com/xtaci/seamhand/transport"
	"github.com/xtaci/seamhand/wire"
	"go.uber.org/zap"
)

const (
	drainChunkSize = 32 * 1024
	readerPollTick = 2 * time.Millisecond
)

// Notifier is the one-shot handle a caller uses to hand the coordinator
// its upgrade transport. Notify may be called at most once; Close signals
// that no upgrade transport is coming, the local-failure case that leaves
// the caller's primary transport in service.
type Notifier struct {
	ch   chan transport.Transport
	once sync.Once
}

func newNotifier() *Notifier {
	return &Notifier{ch: make(chan transport.Transport, 1)}
}

// Notify hands t to the coordinator. Calls after the first are no-ops.
func (n *Notifier) Notify(t transport.Transport) {
	n.once.Do(func() {
		n.ch <- t
		close(n.ch)
	})
}

// Close signals that no upgrade transport will ever be supplied.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.ch) })
}

// interrupter is implemented by a primary transport whose blocked reads
// can be woken without delivering data. divider child transports
// implement it, letting the coordinator wake a facade read parked on the
// primary transport once handover completes.
type interrupter interface {
	InterruptRead()
}

// Coordinator runs the handshake for one upgrade attempt. It is
// constructed and started by Run; callers observe its outcome only
// through the slots exposed by UpgradeWriter/UpgradeReader.
type Coordinator struct {
	label   string
	ourID   string
	control transport.Transport
	primary transport.Transport
	log     *zap.Logger

	mu           sync.Mutex
	writerT      transport.Transport
	writerFilled bool
	readerT      transport.Transport
	readerBuf    []byte
	readerFilled bool

	// primaryWriteMu guards every write-half operation (Write, TryWrite,
	// Flush, Shutdown) dispatched to the primary data sub-channel, whether
	// it comes from the facade or from the handshake loop itself. The
	// handshake loop takes it around c.primary.Shutdown() at handover so a
	// facade Write already in flight on the primary can never be
	// truncated out from under it.
	primaryWriteMu sync.Mutex
}

// LockPrimaryWrite acquires exclusive access to the primary transport's
// write half. The facade holds this for the duration of any write-path
// call it dispatches to the primary data sub-channel.
func (c *Coordinator) LockPrimaryWrite() { c.primaryWriteMu.Lock() }

// UnlockPrimaryWrite releases the lock taken by LockPrimaryWrite.
func (c *Coordinator) UnlockPrimaryWrite() { c.primaryWriteMu.Unlock() }

// Option configures Run. The zero value uses a no-op logger.
type Option func(*Coordinator)

// WithLogger attaches a structured logger for handshake diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.log = logger }
}

// Run divides nothing itself — it consumes an already-divided control
// sub-channel and the primary data sub-channel — and starts the
// handshake's event loop in the background. It returns immediately with
// the notifier the caller signals once an upgrade transport is
// available.
func Run(label string, control, primary transport.Transport, opts ...Option) (*Notifier, *Coordinator) {
	c := &Coordinator{
		label:   label,
		ourID:   newNonce(),
		control: control,
		primary: primary,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	notifier := newNotifier()
	go c.run(notifier)
	return notifier, c
}

// UpgradeWriter returns the upgrade transport if the writer slot has been
// filled.
func (c *Coordinator) UpgradeWriter() (transport.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writerT, c.writerFilled
}

// UpgradeReader returns the upgrade transport and its paired prefix
// buffer if the reader slot has been filled. The returned buffer is
// owned by the caller; ConsumeReaderBuffer trims what has already been
// delivered to the user.
func (c *Coordinator) UpgradeReader() (transport.Transport, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readerT, c.readerBuf, c.readerFilled
}

// ConsumeReaderBuffer removes the first n bytes of the reader slot's
// buffer, as the facade delivers them to the user.
func (c *Coordinator) ConsumeReaderBuffer(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readerBuf = c.readerBuf[n:]
}

func (c *Coordinator) publishWriter(t transport.Transport) {
	c.mu.Lock()
	if !c.writerFilled {
		c.writerT = t
		c.writerFilled = true
	}
	c.mu.Unlock()
}

func (c *Coordinator) publishReader(t transport.Transport, buf []byte) {
	c.mu.Lock()
	c.readerT = t
	c.readerBuf = buf
	c.readerFilled = true
	c.mu.Unlock()
	if in, ok := c.primary.(interrupter); ok {
		in.InterruptRead()
	}
}

// wake is called unconditionally on termination, successful or not, so a
// facade read parked on the primary transport re-polls instead of hanging
// forever on a handshake that will never complete.
func (c *Coordinator) wake() {
	if in, ok := c.primary.(interrupter); ok {
		in.InterruptRead()
	}
}

// fail logs a fatal handshake error, classified by kind, and wakes any
// facade read blocked on the primary transport before the loop exits.
func (c *Coordinator) fail(typed error) {
	c.log.Warn("coordinator: handshake aborted", zap.String("label", c.label), zap.Error(typed))
	c.wake()
}

func (c *Coordinator) run(notifier *Notifier) {
	notifyCh := notifier.ch

	// reader is touched only by this goroutine until the Ack branch hands
	// it to the facade via publishReader, so polling it here with TryRead
	// needs no lock: there is never a second reader of it concurrently.
	var writer, reader transport.Transport
	var syncSent bool
	var recvBuf []byte
	var pendingSyncID string
	var havePendingSync bool

	controlMsgs := make(chan wire.ControlMessage)
	controlErr := make(chan error, 1)
	go func() {
		for {
			msg, err := wire.ReadControl(c.control)
			if err != nil {
				controlErr <- err
				return
			}
			controlMsgs <- msg
		}
	}()

	pollTicker := time.NewTicker(readerPollTick)
	defer pollTicker.Stop()

	drainBuf := make([]byte, drainChunkSize)
	pollReader := func() error {
		if reader == nil {
			return nil
		}
		n, err := reader.TryRead(drainBuf)
		if n > 0 {
			recvBuf = append(recvBuf, drainBuf[:n]...)
		}
		if err != nil && err != transport.ErrWouldBlock {
			return err
		}
		return nil
	}

	maybeSendSync := func() error {
		if writer != nil && !syncSent {
			if err := wire.WriteControl(c.control, wire.Sync{OurID: c.ourID}); err != nil {
				return err
			}
			syncSent = true
		}
		return nil
	}

	// handleSync answers a peer Sync once our own writer exists: it
	// acknowledges theirID with our nonce and publishes the writer slot.
	handleSync := func(theirID string) error {
		if err := wire.WriteControl(c.control, wire.SyncAck{TheirID: theirID, OurID: c.ourID}); err != nil {
			return err
		}
		c.shutdownPrimaryWrite()
		c.publishWriter(writer)
		return nil
	}

	for {
		if err := maybeSendSync(); err != nil {
			c.fail(transport.NewTransportError("coordinator: send sync", err))
			return
		}

		// A Sync that arrived before our own writer existed is requeued
		// here: re-checked on every loop iteration until a writer turns up.
		if writer != nil && havePendingSync {
			if err := handleSync(pendingSyncID); err != nil {
				c.fail(transport.NewTransportError("coordinator: send syncack", err))
				return
			}
			havePendingSync = false
		}

		select {
		case t, ok := <-notifyCh:
			notifyCh = nil
			if !ok {
				// LocalError: notifier dropped without ever sending. The
				// facade keeps using the primary transport; we simply
				// stop participating.
				c.log.Debug("coordinator: no upgrade transport supplied", zap.String("label", c.label))
				c.wake()
				return
			}
			writer = t
			reader = t

		case <-pollTicker.C:
			if err := pollReader(); err != nil {
				c.fail(transport.NewTransportError("coordinator: drain upgrade reader", err))
				return
			}

		case err := <-controlErr:
			c.fail(transport.NewTransportError("coordinator: read control", err))
			return

		case msg := <-controlMsgs:
			switch m := msg.(type) {
			case wire.Sync:
				if writer == nil {
					// Sync is gated on having a writer: an early Sync that
					// arrives before our own upgrade transport does is
					// kept and retried above, once writer is set, rather
					// than dropped.
					pendingSyncID = m.OurID
					havePendingSync = true
					continue
				}
				if err := handleSync(m.OurID); err != nil {
					c.fail(transport.NewTransportError("coordinator: send syncack", err))
					return
				}

			case wire.SyncAck:
				if m.TheirID != c.ourID {
					c.fail(transport.NewProtocolError("coordinator: syncack nonce mismatch", nil))
					return
				}
				if err := wire.WriteControl(c.control, wire.Ack{TheirID: m.OurID}); err != nil {
					c.fail(transport.NewTransportError("coordinator: send ack", err))
					return
				}
				if !c.writerFilledLocked() {
					c.shutdownPrimaryWrite()
					c.publishWriter(writer)
				}

			case wire.Ack:
				if m.TheirID != c.ourID {
					c.fail(transport.NewProtocolError("coordinator: ack nonce mismatch", nil))
					return
				}
				drained := drainUntilWouldBlock(c.primary)
				recvBuf = append(drained, recvBuf...)
				c.log.Debug("coordinator: handover complete",
					zap.String("label", c.label), zap.Int("drained", len(drained)), zap.Int("bufferedReader", len(recvBuf)))
				c.publishReader(reader, recvBuf)
				return
			}
		}
	}
}

// shutdownPrimaryWrite shuts down the primary transport's write half under
// primaryWriteMu, so a facade Write already in flight on the primary
// finishes (or fails cleanly on its own) instead of racing a Shutdown that
// would truncate it mid-call.
func (c *Coordinator) shutdownPrimaryWrite() {
	c.primaryWriteMu.Lock()
	_ = c.primary.Shutdown()
	c.primaryWriteMu.Unlock()
}

func (c *Coordinator) writerFilledLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writerFilled
}

// drainUntilWouldBlock pulls every byte currently buffered on t's
// read-half without blocking. A blocking read-to-end would only be safe
// once the peer has half-closed the primary transport, which it has not
// necessarily done at this point, so a non-blocking drain is required
// instead.
func drainUntilWouldBlock(t transport.Transport) []byte {
	var out []byte
	buf := make([]byte, drainChunkSize)
	for {
		n, err := t.TryRead(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out
		}
	}
}
