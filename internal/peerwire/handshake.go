package peerwire

import (
	"io"

	"github.com/pkg/errors"
)

const protocolID = "BitTorrent protocol"

// Handshake is the fixed 68-byte frame exchanged before any length-prefixed
// message: 1 byte pstrlen, 19 bytes pstr, 8 reserved zero bytes, 20-byte
// info-hash, 20-byte peer-id.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// New builds a Handshake advertising infoHash and peerID.
func New(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize encodes h to its 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(protocolID)+49)
	cursor := 1
	buf[0] = byte(len(protocolID))
	cursor += copy(buf[cursor:], protocolID)
	cursor += copy(buf[cursor:], make([]byte, 8))
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and decodes a 68-byte handshake frame from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, errors.Wrap(err, "read pstrlen")
	}
	pstrlen := int(lenBuf[0])

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errors.Wrap(err, "read handshake body")
	}

	h := &Handshake{}
	cursor := pstrlen + 8
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}
