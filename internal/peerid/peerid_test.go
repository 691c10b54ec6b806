package peerid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateHasPrefix(t *testing.T) {
	id := Generate()
	assert.True(t, strings.HasPrefix(string(id[:]), prefix))
	assert.Len(t, id, 20)
}

func TestGenerateIsRandomized(t *testing.T) {
	a := Generate()
	b := Generate()
	assert.NotEqual(t, a, b, "two generated ids should not collide")
}

func TestGenerateSuffixIsAlphanumeric(t *testing.T) {
	id := Generate()
	suffix := string(id[len(prefix):])
	for _, c := range suffix {
		assert.True(t, strings.ContainsRune(alphanumeric, c), "unexpected char %q in peer id suffix", c)
	}
}
