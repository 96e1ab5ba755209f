// Package transport defines the duplex byte-stream abstraction the rest of
// the library builds on, plus the adapter that turns a blocking net.Conn
// (or any io.ReadWriteCloser) into one.
package transport

import (
	"errors"
	"io"
)

// ErrWouldBlock is returned by TryRead/TryWrite when a non-blocking
// attempt could not make progress.
var ErrWouldBlock = errors.New("transport: would block")

// ErrInterrupted is returned by a blocking Read that was woken without
// delivering data, so the caller re-evaluates its read strategy instead
// of treating the call as having failed.
var ErrInterrupted = errors.New("transport: interrupted")

// Transport is a reliable duplex byte-stream with a stable identifier and
// a human label, the sole collaborator the core library consumes from its
// caller.
//
// Read/Write behave like io.Reader/io.Writer (they block until progress,
// EOF, or error). TryRead/TryWrite are their non-blocking counterparts,
// returning ErrWouldBlock instead of waiting. The coordinator uses TryRead
// to poll the upgrade transport and to drain the primary data sub-channel
// at handover; the facade's Read/Write and the control-message exchange
// use the blocking variants.
type Transport interface {
	io.Reader
	io.Writer

	// TryRead attempts a single non-blocking read.
	TryRead(p []byte) (int, error)
	// TryWrite attempts a single non-blocking write.
	TryWrite(p []byte) (int, error)

	Flush() error
	Shutdown() error

	ID() uint16
	Label() string
}
