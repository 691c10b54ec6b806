// Package bencode implements the bencoded value format used by .torrent
// files and the HTTP tracker wire protocol: byte strings, integers, lists
// and dictionaries, recursively nested.
package bencode

import "fmt"

// Kind tags the shape a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindList
	KindDict
)

// DictEntry preserves the on-wire order of a dictionary's keys; Value
// itself never sorts or depends on that order.
type DictEntry struct {
	Key string
	Val *Value
}

// Value is a tagged bencode value. Only the field matching Kind is valid.
type Value struct {
	Kind Kind
	Str  []byte
	Int  int64
	List []*Value
	Dict []DictEntry

	// InfoHash is set on a dictionary's Value when that dictionary
	// contained an "info" key (in a torrent, the top-level dictionary); it
	// carries the SHA-1 of the raw bytes spanning the info value, per spec
	// §4.1.
	InfoHash []byte

	// Pieces and Peers hold the re-tagged shapes described in spec §4.1,
	// populated alongside Str (which keeps the raw bytes) when a
	// "pieces"/"peers" byte-string value is recognized inside a dictionary.
	Pieces [][20]byte
	Peers  []PeerAddr
}

// PeerAddr is a decoded compact peer record (IPv4, big-endian port).
type PeerAddr struct {
	IP   [4]byte
	Port uint16
}

// Get looks up key in a dictionary value; ok is false if v is not a
// dictionary or the key is absent.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.Kind != KindDict {
		return nil, false
	}
	for _, e := range v.Dict {
		if e.Key == key {
			return e.Val, true
		}
	}
	return nil, false
}

// GetString returns the string contents of a dictionary field, or ok=false
// if the key is missing or not a byte-string.
func (v *Value) GetString(key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok || f.Kind != KindString {
		return "", false
	}
	return string(f.Str), true
}

// GetInt returns the integer contents of a dictionary field, or ok=false
// if the key is missing or not an integer.
func (v *Value) GetInt(key string) (int64, bool) {
	f, ok := v.Get(key)
	if !ok || f.Kind != KindInt {
		return 0, false
	}
	return f.Int, true
}

// GetList returns a dictionary field's list value, or ok=false if the key
// is missing or not a list.
func (v *Value) GetList(key string) ([]*Value, bool) {
	f, ok := v.Get(key)
	if !ok || f.Kind != KindList {
		return nil, false
	}
	return f.List, true
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}
