package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ControlMessage is one of Sync, SyncAck, or Ack. Values are the concrete
// message structs below; controlTag identifies which.
type ControlMessage interface {
	controlTag() controlTag
}

type controlTag byte

const (
	tagSync controlTag = iota
	tagSyncAck
	tagAck
)

// Sync announces readiness to upgrade along with the sender's nonce.
type Sync struct {
	OurID string
}

func (Sync) controlTag() controlTag { return tagSync }

// SyncAck acknowledges a peer Sync(TheirID) and carries the responder's
// own nonce, OurID.
type SyncAck struct {
	TheirID string
	OurID   string
}

func (SyncAck) controlTag() controlTag { return tagSyncAck }

// Ack confirms a SyncAck whose nonce, TheirID, matched what we sent.
type Ack struct {
	TheirID string
}

func (Ack) controlTag() controlTag { return tagAck }

// EncodeControl serializes msg as a tag byte followed by one or two
// length-prefixed UTF-8 strings.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Sync:
		return appendStrings(byte(tagSync), m.OurID), nil
	case SyncAck:
		return appendStrings(byte(tagSyncAck), m.TheirID, m.OurID), nil
	case Ack:
		return appendStrings(byte(tagAck), m.TheirID), nil
	default:
		return nil, errors.Errorf("wire: unknown control message type %T", msg)
	}
}

func appendStrings(tag byte, fields ...string) []byte {
	buf := make([]byte, 0, 1+len(fields)*(2+32))
	buf = append(buf, tag)
	for _, f := range fields {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f...)
	}
	return buf
}

// DecodeControl parses the layout EncodeControl produces.
func DecodeControl(b []byte) (ControlMessage, error) {
	if len(b) < 1 {
		return nil, errors.New("wire: empty control message")
	}
	tag := controlTag(b[0])
	rest := b[1:]

	switch tag {
	case tagSync:
		fields, err := readStrings(rest, 1)
		if err != nil {
			return nil, err
		}
		return Sync{OurID: fields[0]}, nil
	case tagSyncAck:
		fields, err := readStrings(rest, 2)
		if err != nil {
			return nil, err
		}
		return SyncAck{TheirID: fields[0], OurID: fields[1]}, nil
	case tagAck:
		fields, err := readStrings(rest, 1)
		if err != nil {
			return nil, err
		}
		return Ack{TheirID: fields[0]}, nil
	default:
		return nil, errors.Errorf("wire: unknown control tag %d", b[0])
	}
}

func readStrings(b []byte, count int) ([]string, error) {
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < 2 {
			return nil, errors.New("wire: truncated control message")
		}
		n := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < n {
			return nil, errors.New("wire: truncated control message field")
		}
		out = append(out, string(b[:n]))
		b = b[n:]
	}
	return out, nil
}

// WriteControl encodes msg and frames it onto w with WriteMessage. w is
// expected to be the control sub-channel a Divider hands out, which
// carries nothing else, so no kind byte is needed here — that
// discrimination already happened one layer down, inside the divider.
func WriteControl(w io.Writer, msg ControlMessage) error {
	payload, err := EncodeControl(msg)
	if err != nil {
		return err
	}
	return WriteMessage(w, payload)
}

// ReadControl reads one WriteMessage-framed payload from r and decodes it
// as a control message.
func ReadControl(r io.Reader) (ControlMessage, error) {
	payload, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	return DecodeControl(payload)
}
