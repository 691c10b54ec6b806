package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitfieldParse(t *testing.T) {
	bt := Bitfield{0b10100000, 0b00010000}
	for _, want := range []int{0, 2, 11} {
		assert.True(t, bt.HasPiece(want), "piece %d should be set", want)
	}
	for _, notWant := range []int{1, 3, 4, 5, 6, 7, 8, 9, 10, 12, 13, 14, 15} {
		assert.False(t, bt.HasPiece(notWant), "piece %d should not be set", notWant)
	}
}

func TestBitfieldSetPiece(t *testing.T) {
	bt := New(16)
	bt.SetPiece(0)
	bt.SetPiece(2)
	bt.SetPiece(11)
	assert.Equal(t, Bitfield{0b10100000, 0b00010000}, bt)
}

func TestBitfieldClearPiece(t *testing.T) {
	bt := New(16)
	bt.SetPiece(2)
	bt.ClearPiece(2)
	assert.False(t, bt.HasPiece(2))
}

func TestBitfieldOutOfRangeIsNoop(t *testing.T) {
	bt := New(4)
	assert.NotPanics(t, func() { bt.SetPiece(100) })
	assert.False(t, bt.HasPiece(100))
	assert.False(t, bt.HasPiece(-1))
}
