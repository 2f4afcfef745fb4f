package main

import (
	"testing"

	"github.com/newthinker/dexfeed/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"0xAAA:0xBBB"})
	require.NoError(t, err)
	assert.Equal(t, []core.Pair{{Base: "0xaaa", Quote: "0xbbb"}}, pairs)

	for _, bad := range []string{"0xaaa", ":0xbbb", "0xaaa:"} {
		_, err := parsePairs([]string{bad})
		assert.Error(t, err, bad)
	}
}
