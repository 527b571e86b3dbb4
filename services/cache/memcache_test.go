package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	err := mc.Set("modagg_test_key", []byte("test_value"), 1*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get("modagg_test_key")
	assert.NoError(t, err)
	assert.Equal(t, "test_value", string(value))

	err = mc.Delete("modagg_test_key")
	assert.NoError(t, err)

	_, err = mc.Get("modagg_test_key")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryService(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryService()
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set("blocked", []byte("60"), time.Minute))
	require.NoError(t, mc.Set("forever", []byte("x"), 0))

	value, err := mc.Get("blocked")
	require.NoError(t, err)
	assert.Equal(t, "60", string(value))

	now = now.Add(time.Minute)
	_, err = mc.Get("blocked")
	assert.ErrorIs(t, err, ErrMiss)

	_, err = mc.Get("forever")
	assert.NoError(t, err)

	require.NoError(t, mc.Delete("forever"))
	_, err = mc.Get("forever")
	assert.ErrorIs(t, err, ErrMiss)
}
