package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/testutil/fakeuci"
)

// NewFakeEnginePool starts an engine pool of size in-process fake engines.
// The pool is closed and every fake drained at cleanup.
func NewFakeEnginePool(t *testing.T, size int) *engine.Pool {
	t.Helper()

	var (
		mu   sync.Mutex
		done []<-chan error
	)
	launch := func() (*engine.Session, error) {
		r, w, d := fakeuci.Connect(&fakeuci.Engine{SearchTime: 10 * time.Millisecond})
		mu.Lock()
		done = append(done, d)
		mu.Unlock()
		return engine.Attach("fake", r, w), nil
	}

	pool, err := engine.NewPool(context.Background(), engine.PoolConfig{
		Size:        size,
		MinMoveTime: 10 * time.Millisecond,
		Launch:      launch,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, d := range done {
			<-d
		}
	})
	return pool
}
