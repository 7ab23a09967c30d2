package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeCypher(t *testing.T) {
	assert.Equal(t, "plain", escapeCypher("plain"))
	assert.Equal(t, `o\'brien`, escapeCypher("o'brien"))
	assert.Equal(t, `a\'b\'c`, escapeCypher("a'b'c"))
	assert.Equal(t, `C:\\temp`, escapeCypher(`C:\temp`))
	// A trailing backslash before a quote must not neutralize the quote's
	// escape.
	assert.Equal(t, `end\\\'`, escapeCypher(`end\'`))
}

func TestFalkorGraphName(t *testing.T) {
	s := NewFalkorGraphStore(DefaultFalkorConfig())
	assert.Equal(t, "strata:t1:e1", s.graphName("t1", "e1"))
}

func TestFalkorIsMissingGraph(t *testing.T) {
	assert.False(t, isMissingGraph(nil))
	assert.True(t, isMissingGraph(errEmptyKey{}))
}

type errEmptyKey struct{}

func (errEmptyKey) Error() string { return "ERR Invalid graph operation on empty key" }
