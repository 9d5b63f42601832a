package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SehatKit/KawalObat/internal/models"
)

func TestSchedulerAddJobValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	require.NoError(t, s.AddJob("* * * * *", func() {}))
	assert.Error(t, s.AddJob("not a cron expr", func() {}))
	assert.Error(t, s.AddJob("* * * * * *", func() {}), "6-field expressions are rejected")
}

type blockingProcessor struct {
	calls   atomic.Int32
	release chan struct{}
}

func (p *blockingProcessor) ProcessPendingFollowups(ctx context.Context) (*models.ProcessResult, error) {
	p.calls.Add(1)
	<-p.release
	return &models.ProcessResult{}, nil
}

func TestDriverProcessCycleSingleFlight(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	driver := NewDriver(proc, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.RunProcessCycle(context.Background())
	}()

	// Wait for the first cycle to be inside the processor.
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Overlapping ticks are skipped, not queued.
	driver.RunProcessCycle(context.Background())
	driver.RunProcessCycle(context.Background())
	assert.Equal(t, int32(1), proc.calls.Load())

	close(proc.release)
	wg.Wait()

	// After the cycle finishes the guard is released.
	proc.release = make(chan struct{})
	close(proc.release)
	driver.RunProcessCycle(context.Background())
	assert.Equal(t, int32(2), proc.calls.Load())
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) CleanupExpired(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestDriverRegisterDefaults(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	close(proc.release)
	sweeper := &countingSweeper{}

	s := NewScheduler()
	defer s.Stop()

	driver := NewDriver(proc, sweeper)
	require.NoError(t, driver.Register(s, "", ""))

	// Sweep runs independently of the process cycle.
	driver.RunSweepCycle(context.Background())
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestDriverRegisterRejectsBadExpressions(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	s := NewScheduler()
	defer s.Stop()

	driver := NewDriver(proc, &countingSweeper{})
	assert.Error(t, driver.Register(s, "bogus", ""))
	assert.Error(t, driver.Register(s, "", "bogus"))
}
