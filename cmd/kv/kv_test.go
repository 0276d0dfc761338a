package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLifetimes(t *testing.T) {
	e, d, err := parseLifetimes("10", "20")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e)
	assert.Equal(t, uint64(20), d)

	_, _, err = parseLifetimes("x", "20")
	assert.ErrorContains(t, err, "expireIn")
	_, _, err = parseLifetimes("10", "-1")
	assert.ErrorContains(t, err, "deleteIn")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", formatValue([]byte(`{"a":1}`)))
	assert.Equal(t, "plain", formatValue([]byte("plain")))
}
