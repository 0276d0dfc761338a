package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, RetCSuccess, CodeOf(nil))
	assert.Equal(t, RetCInternalError, CodeOf(errors.New("boom")))

	wrapped := fmt.Errorf("save: %w", NewError(RetCUnavailable, "no server"))
	assert.Equal(t, RetCUnavailable, CodeOf(wrapped))
	assert.Equal(t, "StoreError (code Unavailable): no server", errors.Unwrap(wrapped).Error())
	assert.Equal(t, "Unknown", RetCode(42).String())
}
