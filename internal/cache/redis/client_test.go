package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	opts, err := ClientConfig{Addr: "localhost:6379", DB: 2, TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "rediss://:pw@cache.internal:6380/3", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)

	_, err = ClientConfig{Addr: "redis://host/notanumber"}.options()
	assert.Error(t, err)
}
