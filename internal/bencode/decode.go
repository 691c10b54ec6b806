package bencode

import (
	"crypto/sha1"

	"github.com/pkg/errors"
)

// ErrBadFile is returned for structurally invalid bencode input, including
// the empty-input case for the top-level dictionary.
var ErrBadFile = errors.New("bencode: bad file")

// decoder walks buf with a cursor, producing a Value tree. It never copies
// buf; byte-strings and the info-hash digest are sliced/hashed directly
// out of the input so the raw-byte-range capture in §4.1 stays exact.
type decoder struct {
	buf []byte
	pos int
}

// Decode parses a single bencode value starting at the beginning of buf and
// returns it along with the cursor position just past the value. Trailing
// bytes after the value are not an error; callers that require the whole
// buffer to be consumed should check the returned position themselves.
func Decode(buf []byte) (*Value, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrBadFile
	}
	d := &decoder{buf: buf}
	v, err := d.decodeValue()
	if err != nil {
		return nil, d.pos, err
	}
	return v, d.pos, nil
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.buf) {
		return 0, false
	}
	return d.buf[d.pos], true
}

func (d *decoder) decodeValue() (*Value, error) {
	c, ok := d.peek()
	if !ok {
		return nil, errors.Wrap(ErrBadFile, "unexpected end of input")
	}
	switch {
	case c >= '0' && c <= '9':
		return d.decodeString()
	case c == 'i':
		return d.decodeInt()
	case c == 'l':
		return d.decodeList()
	case c == 'd':
		return d.decodeDict()
	default:
		return nil, errors.Wrapf(ErrBadFile, "unexpected lookahead byte %q at offset %d", c, d.pos)
	}
}

// decodeString parses <len>":"<bytes>.
func (d *decoder) decodeString() (*Value, error) {
	start := d.pos
	for d.pos < len(d.buf) && d.buf[d.pos] != ':' {
		if d.buf[d.pos] < '0' || d.buf[d.pos] > '9' {
			return nil, errors.Wrapf(ErrBadFile, "non-numeric string length at offset %d", start)
		}
		d.pos++
	}
	if d.pos >= len(d.buf) {
		return nil, errors.Wrap(ErrBadFile, "truncated string length")
	}
	length := 0
	for _, c := range d.buf[start:d.pos] {
		next := length*10 + int(c-'0')
		if next < length || next > len(d.buf) {
			return nil, errors.Wrapf(ErrBadFile, "string length overflow at offset %d", start)
		}
		length = next
	}
	d.pos++ // consume ':'
	if d.pos+length > len(d.buf) {
		return nil, errors.Wrapf(ErrBadFile, "truncated string body (want %d bytes)", length)
	}
	s := d.buf[d.pos : d.pos+length]
	d.pos += length
	return &Value{Kind: KindString, Str: s}, nil
}

// decodeInt parses "i"<decimal>"e". Only non-negative decimals are accepted.
func (d *decoder) decodeInt() (*Value, error) {
	start := d.pos
	d.pos++ // consume 'i'
	digitsStart := d.pos
	for d.pos < len(d.buf) && d.buf[d.pos] != 'e' {
		if d.buf[d.pos] < '0' || d.buf[d.pos] > '9' {
			return nil, errors.Wrapf(ErrBadFile, "non-numeric integer at offset %d", start)
		}
		d.pos++
	}
	if d.pos >= len(d.buf) {
		return nil, errors.Wrap(ErrBadFile, "truncated integer")
	}
	if d.pos == digitsStart {
		return nil, errors.Wrapf(ErrBadFile, "empty integer at offset %d", start)
	}
	var n int64
	for _, c := range d.buf[digitsStart:d.pos] {
		next := n*10 + int64(c-'0')
		if next < n {
			return nil, errors.Wrapf(ErrBadFile, "integer overflow at offset %d", start)
		}
		n = next
	}
	d.pos++ // consume 'e'
	return &Value{Kind: KindInt, Int: n}, nil
}

func (d *decoder) decodeList() (*Value, error) {
	d.pos++ // consume 'l'
	v := &Value{Kind: KindList}
	for {
		c, ok := d.peek()
		if !ok {
			return nil, errors.Wrap(ErrBadFile, "truncated list")
		}
		if c == 'e' {
			d.pos++
			return v, nil
		}
		elem, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		v.List = append(v.List, elem)
	}
}

func (d *decoder) decodeDict() (*Value, error) {
	d.pos++ // consume 'd'
	v := &Value{Kind: KindDict}
	for {
		c, ok := d.peek()
		if !ok {
			return nil, errors.Wrap(ErrBadFile, "truncated dict")
		}
		if c == 'e' {
			d.pos++
			return v, nil
		}
		keyVal, err := d.decodeString()
		if err != nil {
			return nil, errors.Wrap(err, "dict key")
		}
		key := string(keyVal.Str)

		valStart := d.pos
		val, err := d.decodeValue()
		if err != nil {
			return nil, errors.Wrapf(err, "dict value for key %q", key)
		}

		if key == "info" {
			sum := sha1.Sum(d.buf[valStart:d.pos])
			v.InfoHash = sum[:]
		}

		switch key {
		case "pieces":
			if val.Kind == KindString {
				pieces, perr := splitPieces(val.Str)
				if perr != nil {
					return nil, perr
				}
				val.Pieces = pieces
			}
		case "peers":
			if val.Kind == KindString {
				peers, perr := splitPeers(val.Str)
				if perr != nil {
					return nil, perr
				}
				val.Peers = peers
			}
		}

		v.Dict = append(v.Dict, DictEntry{Key: key, Val: val})
	}
}

func splitPieces(raw []byte) ([][20]byte, error) {
	if len(raw)%20 != 0 {
		return nil, errors.Wrapf(ErrBadFile, "pieces length %d not a multiple of 20", len(raw))
	}
	out := make([][20]byte, len(raw)/20)
	for i := range out {
		copy(out[i][:], raw[i*20:(i+1)*20])
	}
	return out, nil
}

func splitPeers(raw []byte) ([]PeerAddr, error) {
	if len(raw)%6 != 0 {
		return nil, errors.Wrapf(ErrBadFile, "peers length %d not a multiple of 6", len(raw))
	}
	out := make([]PeerAddr, len(raw)/6)
	for i := range out {
		off := i * 6
		copy(out[i].IP[:], raw[off:off+4])
		out[i].Port = uint16(raw[off+4])<<8 | uint16(raw[off+5])
	}
	return out, nil
}
