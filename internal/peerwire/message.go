// Package peerwire implements the BitTorrent peer protocol's framing: the
// 68-byte handshake and the length-prefixed messages exchanged afterward.
package peerwire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageID tags the one-byte id at the front of every non-keepalive
// message payload.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

// BlockSize is the maximum length BitTorrent peers request in one "request"
// message.
const BlockSize = 16384

// maxMessageLength caps the length prefix ReadMessage will honor. It covers
// a full-block piece message plus header with headroom for a bitfield on a
// torrent with a very large piece count; a peer advertising more than this
// is lying or malicious, not slow.
const maxMessageLength = 128 * 1024

// ErrMessageTooLarge is returned when a peer's length prefix exceeds
// maxMessageLength.
var ErrMessageTooLarge = errors.New("peerwire: message length exceeds maximum")

// Message is a decoded peer-wire message. A nil *Message represents a
// keep-alive (a bare 4-byte zero length prefix).
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes m to its wire form, including the length prefix. A nil
// receiver serializes to a keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one length-prefixed frame from r. It returns (nil, nil)
// on a keep-alive.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, errors.Wrap(err, "read length prefix")
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLength {
		return nil, errors.Wrapf(ErrMessageTooLarge, "got %d, max %d", length, maxMessageLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "read message body")
	}
	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// Have builds a "have" message announcing possession of piece index.
func Have(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// Request builds a "request" message for length bytes of piece index
// starting at begin.
func Request(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// ParsePiece validates msg as a "piece" message for the expected piece
// index and copies its data into buf at the advertised begin offset. It
// returns the number of bytes copied.
func ParsePiece(index int, buf []byte, msg *Message) (int, error) {
	if msg.ID != MsgPiece {
		return 0, errors.Errorf("expected PIECE message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, errors.Errorf("piece payload too short: %d bytes", len(msg.Payload))
	}
	parsedIndex := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if parsedIndex != index {
		return 0, errors.Errorf("piece message for index %d, expected %d", parsedIndex, index)
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin >= len(buf) {
		return 0, errors.Errorf("begin offset %d beyond buffer size %d", begin, len(buf))
	}
	data := msg.Payload[8:]
	if len(data)+begin > len(buf) {
		return 0, errors.Errorf("data length %d at offset %d overflows buffer size %d", len(data), begin, len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// ParseHave validates msg as a "have" message and returns the piece index
// it announces.
func ParseHave(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, errors.Errorf("expected HAVE message, got id %d", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, errors.Errorf("have payload must be 4 bytes, got %d", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
