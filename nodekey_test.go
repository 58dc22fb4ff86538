package rediscluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeKeyRoundTrip(t *testing.T) {
	key, err := ParseNodeKey("10.0.0.5:6380")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", key.Host)
	assert.EqualValues(t, 6380, key.Port)
	assert.Equal(t, "10.0.0.5:6380", key.String())
}

func TestParseNodeKeyIPv6(t *testing.T) {
	key, err := ParseNodeKey("::1:6379")
	require.NoError(t, err)
	assert.EqualValues(t, 6379, key.Port)
}

func TestParseNodeKeyInvalid(t *testing.T) {
	for _, c := range []string{"", "noport", "host:", "host:notaport"} {
		_, err := ParseNodeKey(c)
		assert.Error(t, err, "ParseNodeKey(%q)", c)
	}
}

func TestNodeKeyIsZero(t *testing.T) {
	var zero NodeKey
	assert.True(t, zero.IsZero())

	nonZero := NodeKey{Host: "127.0.0.1", Port: 6379}
	assert.False(t, nonZero.IsZero())
}
