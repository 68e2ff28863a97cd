package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/worker"
)

func TestMain(m *testing.M) {
	logger.SetDefault(logger.Discard())
	goleak.VerifyTestMain(m)
}

type testJob struct {
	name    string
	run     func(context.Context) error
	aborted chan error
}

func newJob(name string, run func(context.Context) error) *testJob {
	return &testJob{name: name, run: run, aborted: make(chan error, 1)}
}

func (j *testJob) Name() string                  { return j.name }
func (j *testJob) Run(ctx context.Context) error { return j.run(ctx) }
func (j *testJob) Abort(err error)               { j.aborted <- err }

func TestPool_RunsJobs(t *testing.T) {
	p := worker.NewPool(3, 10)
	p.Start(context.Background())
	defer p.Stop()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(newJob("count", func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		})))
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := worker.NewPool(2, 10)
	p.Start(context.Background())
	defer p.Stop()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(newJob("slow", func(context.Context) error {
			defer wg.Done()
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil
		})))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_FailingJobDoesNotStopWorker(t *testing.T) {
	p := worker.NewPool(1, 4)
	p.Start(context.Background())
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(newJob("fail", func(context.Context) error {
		return errors.New("boom")
	})))
	require.NoError(t, p.Submit(newJob("after", func(context.Context) error {
		close(done)
		return nil
	})))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a failing job")
	}
}

func TestPool_JobContextCarriesLogger(t *testing.T) {
	p := worker.NewPool(1, 1)
	p.Start(context.Background())
	defer p.Stop()

	got := make(chan *logger.Logger, 1)
	require.NoError(t, p.Submit(newJob("ctx", func(ctx context.Context) error {
		got <- logger.FromContext(ctx)
		return nil
	})))
	assert.NotNil(t, <-got)
}

func TestPool_StopAbortsQueuedJobs(t *testing.T) {
	p := worker.NewPool(1, 4)

	queued := []*testJob{
		newJob("a", func(context.Context) error { return nil }),
		newJob("b", func(context.Context) error { return nil }),
	}
	for _, j := range queued {
		require.NoError(t, p.Submit(j))
	}
	assert.Equal(t, 2, p.QueueSize())

	p.Stop()
	for _, j := range queued {
		select {
		case err := <-j.aborted:
			assert.ErrorIs(t, err, worker.ErrPoolClosed)
		default:
			t.Fatalf("job %s was not aborted", j.name)
		}
	}

	assert.ErrorIs(t, p.Submit(newJob("late", nil)), worker.ErrPoolClosed)
	p.Stop()
}

func TestPool_StopWaitsForRunningJob(t *testing.T) {
	p := worker.NewPool(1, 1)
	p.Start(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, p.Submit(newJob("running", func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})))

	<-started
	assert.Equal(t, 1, p.Running())
	p.Stop()
	assert.True(t, finished.Load())
	assert.Zero(t, p.Running())
}
