// Package seamhand coordinates a live handover of a duplex byte-stream
// from one transport to another without losing, duplicating, or
// reordering a single byte, and without the stream's user ever observing
// the switch.
//
// New divides a primary transport into a data sub-channel and a control
// sub-channel (package divider), hands the control sub-channel to a
// background handshake (package coordinator), and returns a Stream that
// dispatches each read and write to whichever half — primary or upgrade
// — currently owns that direction.
package seamhand

import (
	"github.com/xtaci/seamhand/coordinator"
	"github.com/xtaci/seamhand/divider"
	"github.com/xtaci/seamhand/transport"
)

// New divides primary and starts the upgrade coordinator over its
// control sub-channel. It returns a Notifier the caller signals with the
// upgrade transport whenever one becomes available, and the Stream users
// read and write through for the lifetime of the connection.
func New(label string, primary transport.Transport, opts ...Option) (*coordinator.Notifier, *Stream) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, control := divider.Divide(primary, divider.WithLogger(o.Logger))
	notifier, coord := coordinator.Run(label, control, data, coordinator.WithLogger(o.Logger))

	s := &Stream{
		id:    primary.ID(),
		label: primary.Label(),
		data:  data,
		coord: coord,
	}
	return notifier, s
}

// Stream is the public duplex byte-stream users read and write through.
// Its identifier and label stay fixed to the primary transport's for the
// object's whole lifetime, even after an upgrade completes.
type Stream struct {
	id    uint16
	label string
	data  transport.Transport
	coord *coordinator.Coordinator
}

var _ transport.Transport = (*Stream)(nil)

// Read checks the coordinator's upgrade-reader slot ahead of the primary
// data sub-channel on every call, so no byte can be delivered out of the
// order the coordinator established at handover.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		if rt, buf, ok := s.coord.UpgradeReader(); ok {
			if len(buf) > 0 {
				n := copy(p, buf)
				s.coord.ConsumeReaderBuffer(n)
				return n, nil
			}
			return rt.Read(p)
		}

		n, err := s.data.Read(p)
		if err == transport.ErrInterrupted {
			// Handover just completed (or failed); re-check the slot
			// instead of surfacing this as a read failure.
			continue
		}
		return n, err
	}
}

// TryRead is Read's non-blocking counterpart.
func (s *Stream) TryRead(p []byte) (int, error) {
	if rt, buf, ok := s.coord.UpgradeReader(); ok {
		if len(buf) > 0 {
			n := copy(p, buf)
			s.coord.ConsumeReaderBuffer(n)
			return n, nil
		}
		return rt.TryRead(p)
	}
	n, err := s.data.TryRead(p)
	if err == transport.ErrInterrupted {
		return n, transport.ErrWouldBlock
	}
	return n, err
}

// Write checks the coordinator's upgrade-writer slot the same way Read
// checks the reader slot. A call that falls through to the primary holds
// the coordinator's primary-write lock for the call's duration, so the
// coordinator's own handover-time Shutdown of the primary can never
// truncate a Write already in flight.
func (s *Stream) Write(p []byte) (int, error) {
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Write(p)
	}
	s.coord.LockPrimaryWrite()
	defer s.coord.UnlockPrimaryWrite()
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Write(p)
	}
	return s.data.Write(p)
}

// TryWrite is Write's non-blocking counterpart.
func (s *Stream) TryWrite(p []byte) (int, error) {
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.TryWrite(p)
	}
	s.coord.LockPrimaryWrite()
	defer s.coord.UnlockPrimaryWrite()
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.TryWrite(p)
	}
	return s.data.TryWrite(p)
}

// Flush dispatches to whichever half currently owns writes.
func (s *Stream) Flush() error {
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Flush()
	}
	s.coord.LockPrimaryWrite()
	defer s.coord.UnlockPrimaryWrite()
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Flush()
	}
	return s.data.Flush()
}

// Shutdown dispatches to whichever half currently owns writes.
func (s *Stream) Shutdown() error {
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Shutdown()
	}
	s.coord.LockPrimaryWrite()
	defer s.coord.UnlockPrimaryWrite()
	if wt, ok := s.coord.UpgradeWriter(); ok {
		return wt.Shutdown()
	}
	return s.data.Shutdown()
}

// ID returns the primary transport's identifier. Stable across upgrade.
func (s *Stream) ID() uint16 { return s.id }

// Label returns the primary transport's label. Stable across upgrade.
func (s *Stream) Label() string { return s.label }
