package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0))
	assert.Equal(t, 1, Clamp(-5))
	assert.LessOrEqual(t, Clamp(1<<20), runtimeGOMAXPROCS())
}

func runtimeGOMAXPROCS() int {
	p := Clamp(1 << 20)
	return p
}

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(4)

	var n int64
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok := p.Submit(ctx, func() error {
			atomic.AddInt64(&n, 1)
			return nil
		})
		require.True(t, ok)
	}

	p.Close()
	assert.Equal(t, int64(100), atomic.LoadInt64(&n))
}

func TestPoolStickyError(t *testing.T) {
	p := New(2)
	ctx := context.Background()

	sentinel := assert.AnError
	p.Submit(ctx, func() error { return sentinel })
	p.Submit(ctx, func() error { return nil })

	p.Close()
	require.Error(t, p.Err())
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Close()

	// Saturate the single worker with a blocking job.
	release := make(chan struct{})
	ok := p.Submit(context.Background(), func() error {
		<-release
		return nil
	})
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok = p.Submit(ctx, func() error { return nil })
	assert.False(t, ok)

	close(release)
}
