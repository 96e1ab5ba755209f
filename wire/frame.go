// Package wire implements the two binary codecs the core needs: the
// divider's tagged data/control frame and the coordinator's
// Sync/SyncAck/Ack control message. Both follow the length-delimited-frame
// shape github.com/xtaci/smux uses for its own frame header: a small
// fixed header followed by a payload of the length it names.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// FrameKind discriminates the two sub-channels multiplexed onto one
// transport by the divider.
type FrameKind byte

const (
	// KindData carries bytes for the data sub-channel.
	KindData FrameKind = 0
	// KindControl carries bytes for the control sub-channel.
	KindControl FrameKind = 1
)

func (k FrameKind) String() string {
	if k == KindData {
		return "data"
	}
	return "control"
}

// MaxFramePayload bounds a single tagged frame's payload so a corrupt
// length prefix cannot force an unbounded allocation.
const MaxFramePayload = 16 * 1024 * 1024

// ErrMalformed marks a frame or message that failed validation (unknown
// kind byte, oversized length) rather than an underlying I/O failure, so
// callers can tell a protocol violation from a transport failure with
// errors.Is.
var ErrMalformed = errors.New("wire: malformed")

const frameHeaderSize = 1 + 4 // kind byte + uint32 length

// WriteFrame writes one length-delimited tagged frame to w. A zero-length
// payload is legal and is the half-close signal for kind's sub-channel.
func WriteFrame(w io.Writer, kind FrameKind, payload []byte) error {
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wire: write frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write frame payload")
	}
	return nil
}

// ReadFrame reads one length-delimited tagged frame from r. It rejects an
// unknown kind byte or an over-long payload as a protocol error.
func ReadFrame(r io.Reader) (FrameKind, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	kind := FrameKind(hdr[0])
	if kind != KindData && kind != KindControl {
		return 0, nil, errors.Wrapf(ErrMalformed, "wire: unknown frame kind %d", hdr[0])
	}

	length := binary.BigEndian.Uint32(hdr[1:])
	if length > MaxFramePayload {
		return 0, nil, errors.Wrapf(ErrMalformed, "wire: frame payload too large: %d", length)
	}
	if length == 0 {
		return kind, nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "wire: read frame payload")
	}
	return kind, payload, nil
}

// WriteMessage writes a plain length-delimited payload to w, with no kind
// discriminator. It is used on top of an already-divided sub-channel
// (e.g. the control sub-channel, which carries nothing but control
// messages) where a kind tag would be redundant.
func WriteMessage(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "wire: write message length")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write message payload")
	}
	return nil
}

// ReadMessage reads a plain length-delimited payload written by
// WriteMessage.
func ReadMessage(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFramePayload {
		return nil, errors.Wrapf(ErrMalformed, "wire: message too large: %d", length)
	}
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "wire: read message payload")
	}
	return payload, nil
}
