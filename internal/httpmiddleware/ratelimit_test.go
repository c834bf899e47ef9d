package httpmiddleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Allow(t *testing.T) {
	t.Parallel()

	l := NewSimpleTokenBucket(3, 3)

	for i := 0; i < 3; i++ {
		require.True(t, l.allow("1.2.3.4"), "request %d within capacity", i)
	}
	require.False(t, l.allow("1.2.3.4"), "capacity exhausted")

	// Independent keys do not share buckets.
	require.True(t, l.allow("5.6.7.8"))
}

func TestTokenBucket_DefaultCapacity(t *testing.T) {
	t.Parallel()

	l := NewSimpleTokenBucket(0, 5)
	require.Equal(t, 5, l.capacity)
}
