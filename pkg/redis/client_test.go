package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientAndHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), mr.Addr(), "", 0, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Healthy(context.Background()))

	mr.Close()
	assert.Error(t, c.Healthy(context.Background()))
}

func TestNewClientFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), addr, "", 0, nil)
	assert.Error(t, err)
}
