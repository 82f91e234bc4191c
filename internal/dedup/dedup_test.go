package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SeenWithinWindow(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, seen, "first appearance is new")

	seen, err = s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, seen, "second appearance inside the window is a duplicate")

	seen, err = s.Seen(ctx, "key-2")
	require.NoError(t, err)
	assert.False(t, seen, "different key is new")
}

func TestMemoryStore_WindowExpiry(t *testing.T) {
	s := NewMemoryStore(80 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Seen(ctx, "key-1")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	seen, err := s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, seen, "expired key counts as new")
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	const workers = 8
	dups := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			seen, _ := s.Seen(ctx, "contended")
			dups <- seen
		}()
	}

	fresh := 0
	for i := 0; i < workers; i++ {
		if !<-dups {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller wins the key")
}

func TestRedisStore_Seen(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisStore_WindowExpiry(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore("redis://"+mr.Addr(), time.Second)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Seen(ctx, "key-1")
	require.NoError(t, err)

	// miniredis advances TTLs manually.
	mr.FastForward(2 * time.Second)

	seen, err := s.Seen(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore("://bad", time.Minute)
	assert.Error(t, err)
}
