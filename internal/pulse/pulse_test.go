package pulse_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"systemstats/internal/pulse"
)

type fakeSource struct {
	mu       sync.Mutex
	callback func()
	err      error
	closed   bool
}

func (f *fakeSource) OnEdge(cb func()) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.callback = cb
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) fire(n int) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	for i := 0; i < n; i++ {
		cb()
	}
}

func TestRPM(t *testing.T) {
	assert.Equal(t, 60, pulse.RPM(10, 5*time.Second))
	assert.Equal(t, 0, pulse.RPM(0, 5*time.Second))
	assert.Equal(t, 1200, pulse.RPM(40, time.Second))
	assert.Equal(t, 0, pulse.RPM(10, 0))
}

func TestCounter_DeriveAndReset(t *testing.T) {
	src := &fakeSource{}
	c := pulse.NewCounter(5 * time.Second)
	require.NoError(t, c.Attach(src))

	src.fire(10)
	rpm, err := c.DeriveAndReset()
	require.NoError(t, err)
	assert.Equal(t, 60, rpm)

	// the window was reset
	rpm, err = c.DeriveAndReset()
	require.NoError(t, err)
	assert.Equal(t, 0, rpm, "stalled fan reads as zero")
}

func TestCounter_UnavailableIsNotZero(t *testing.T) {
	c := pulse.NewCounter(time.Second)

	_, err := c.DeriveAndReset()
	assert.ErrorIs(t, err, pulse.ErrSourceUnavailable)

	err = c.Attach(&fakeSource{err: errors.New("export failed")})
	assert.ErrorIs(t, err, pulse.ErrSourceUnavailable)

	err = c.Attach(nil)
	assert.ErrorIs(t, err, pulse.ErrSourceUnavailable)
}

func TestCounter_MarkUnavailable(t *testing.T) {
	src := &fakeSource{}
	c := pulse.NewCounter(time.Second)
	require.NoError(t, c.Attach(src))

	src.fire(4)
	c.MarkUnavailable()

	_, err := c.DeriveAndReset()
	assert.ErrorIs(t, err, pulse.ErrSourceUnavailable)
}

func TestCounter_ConcurrentEdgesAreNotLost(t *testing.T) {
	src := &fakeSource{}
	// a 30s window makes rpm equal to the raw edge count
	c := pulse.NewCounter(30 * time.Second)
	require.NoError(t, c.Attach(src))

	const workers, perWorker = 8, 1000
	var wg sync.WaitGroup
	derived := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.fire(perWorker)
		}()
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				if rpm, err := c.DeriveAndReset(); err == nil {
					derived += rpm
				}
			}
		}
	}()

	wg.Wait()
	close(done)
	<-stopped

	rpm, err := c.DeriveAndReset()
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, derived+rpm)
}
