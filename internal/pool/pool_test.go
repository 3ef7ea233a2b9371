package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New(4, zerolog.Nop())

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		p.Add(func() error {
			counter.Add(1)
			return nil
		})
	}

	failures := p.Wait()
	require.Equal(t, 0, failures)
	require.Equal(t, int64(100), counter.Load())
}

func TestPoolWaitIsBarrier(t *testing.T) {
	p := New(2, zerolog.Nop())

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		p.Add(func() error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}

	p.Wait()
	// Wait returns only when the queue is empty and every worker is idle.
	require.Equal(t, int64(10), done.Load())
}

func TestPoolCountsFailures(t *testing.T) {
	p := New(3, zerolog.Nop())

	boom := errors.New("boom")
	for i := 0; i < 20; i++ {
		fail := i%4 == 0
		p.Add(func() error {
			if fail {
				return boom
			}
			return nil
		})
	}

	require.Equal(t, 5, p.Wait())
}

func TestPoolFIFODispatch(t *testing.T) {
	// One worker consumes strictly in submission order.
	p := New(1, zerolog.Nop())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		n := i
		p.Add(func() error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		})
	}
	p.Wait()

	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestPoolBoundedQueueBackpressure(t *testing.T) {
	p := New(1, zerolog.Nop())

	release := make(chan struct{})
	p.Add(func() error {
		<-release
		return nil
	})

	// Fill the queue past capacity from another goroutine; Add must block
	// rather than grow without bound.
	added := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Add(func() error { return nil })
		}
		close(added)
	}()

	select {
	case <-added:
		t.Fatal("Add never blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-added
	p.Wait()
}
