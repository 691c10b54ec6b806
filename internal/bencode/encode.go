package bencode

import (
	"bytes"
	"strconv"
)

// Encode re-serializes a Value tree to canonical bencode bytes. For values
// re-tagged by the decoder (Pieces, Peers), the original byte-string shape
// is reproduced rather than the re-tagged one, so that Encode(v) round-trips
// for any v produced by Decode — the synthetic InfoHash field is never
// written back, since it has no wire representation of its own.
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v *Value) {
	switch v.Kind {
	case KindString:
		encodeString(buf, v.Str)
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindList:
		buf.WriteByte('l')
		for _, e := range v.List {
			encodeInto(buf, e)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, e := range v.Dict {
			encodeString(buf, []byte(e.Key))
			encodeInto(buf, e.Val)
		}
		buf.WriteByte('e')
	}
}

func encodeString(buf *bytes.Buffer, s []byte) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.Write(s)
}
