package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("gate-pass-1")
	require.NoError(t, err)
	assert.NotEqual(t, "gate-pass-1", hash)
	assert.True(t, CheckPassword("gate-pass-1", hash))
	assert.False(t, CheckPassword("gate-pass-2", hash))
}

func TestHashPasswordRejectsShort(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestCheckPasswordEmptyHash(t *testing.T) {
	assert.False(t, CheckPassword("", ""))
	assert.False(t, CheckPassword("anything", ""))
}
