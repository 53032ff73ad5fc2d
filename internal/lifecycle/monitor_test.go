package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
	"github.com/BJSummerfield/zendesk-export-v2/internal/zendesk"
)

func startMonitor(t *testing.T, b *bus.Bus) *Monitor {
	t.Helper()
	m := NewMonitor(b, zap.NewNop())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background())
	}()
	t.Cleanup(func() {
		b.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("monitor did not exit")
		}
	})
	return m
}

func statusFor(m *Monitor, svc event.Service) ServiceStatus {
	for _, s := range m.Snapshot() {
		if s.Service == svc {
			return s
		}
	}
	return ServiceStatus{}
}

// TestCounterBalance walks one service through a well-formed delta sequence
// and checks the counter returns to zero with phase Inactive. A second
// service is held active throughout so quiescence cannot cut the test short.
func TestCounterBalance(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := startMonitor(t, b)

	require.Equal(t, PhaseInitialized, statusFor(m, event.ServiceFetcher).Phase)

	b.Publish(event.Increment(event.ServiceCategories))

	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.Decrement(event.ServiceFetcher))

	require.Eventually(t, func() bool {
		s := statusFor(m, event.ServiceFetcher)
		return s.ActiveCount == 1 && s.Phase == PhaseActive
	}, time.Second, 5*time.Millisecond)

	b.Publish(event.Decrement(event.ServiceFetcher))

	require.Eventually(t, func() bool {
		s := statusFor(m, event.ServiceFetcher)
		return s.ActiveCount == 0 && s.Phase == PhaseInactive
	}, time.Second, 5*time.Millisecond)

	// Re-activation leaves Initialized behind for good.
	b.Publish(event.Increment(event.ServiceFetcher))
	require.Eventually(t, func() bool {
		return statusFor(m, event.ServiceFetcher).Phase == PhaseActive
	}, time.Second, 5*time.Millisecond)

	require.False(t, m.ShutdownSent())
}

// TestQuiescenceRequiresAllServices ensures one service's counter touching
// zero while another is still Active does not trigger shutdown.
func TestQuiescenceRequiresAllServices(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := startMonitor(t, b)

	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.Increment(event.ServiceCategories))
	b.Publish(event.Increment(event.ServiceFileWriter))

	// Fetcher goes quiet; the other two are still busy.
	b.Publish(event.Decrement(event.ServiceFetcher))

	require.Eventually(t, func() bool {
		return statusFor(m, event.ServiceFetcher).Phase == PhaseInactive
	}, time.Second, 5*time.Millisecond)
	require.False(t, m.ShutdownSent())

	b.Publish(event.Decrement(event.ServiceCategories))
	b.Publish(event.Decrement(event.ServiceFileWriter))

	require.Eventually(t, m.ShutdownSent, time.Second, 5*time.Millisecond)
}

// TestPendingRequestBlocksShutdown reproduces the handoff race: a fetch
// request already on the bus, whose increment the fetcher has not published
// yet, must keep the pipeline non-quiescent even though every counter reads
// zero.
func TestPendingRequestBlocksShutdown(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := startMonitor(t, b)

	b.Publish(event.Increment(event.ServiceCategories))
	b.Publish(event.FetchRequest{URL: "page-2"}) // promised to the fetcher
	b.Publish(event.Decrement(event.ServiceCategories))

	time.Sleep(50 * time.Millisecond)
	require.False(t, m.ShutdownSent())

	// The fetcher picks the request up and resolves it with an error; an
	// error response is terminal, so the chain ends here.
	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.FetchResponse{Err: "boom"})
	b.Publish(event.Decrement(event.ServiceFetcher))

	require.Eventually(t, m.ShutdownSent, time.Second, 5*time.Millisecond)
}

// TestZeroWorkRunShutsDown plays the zero-category scenario on the wire: the
// seed fetch succeeds, the page is empty, no file work ever exists, and the
// pipeline still reaches a clean shutdown.
func TestZeroWorkRunShutsDown(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := startMonitor(t, b)

	emptyPage := &zendesk.CategoryPage{}

	b.Publish(event.FetchRequest{URL: "categories.json"})
	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.FetchResponse{Page: emptyPage})
	b.Publish(event.Decrement(event.ServiceFetcher))

	// The ok response is promised to the category service, so the fetcher
	// going quiet cannot fire shutdown on its own.
	time.Sleep(50 * time.Millisecond)
	require.False(t, m.ShutdownSent())

	b.Publish(event.Increment(event.ServiceCategories))
	b.Publish(event.Decrement(event.ServiceCategories))

	require.Eventually(t, m.ShutdownSent, time.Second, 5*time.Millisecond)
	require.Equal(t, PhaseInitialized, statusFor(m, event.ServiceFileWriter).Phase)
}

// TestShutdownBroadcastOnce subscribes alongside the monitor and counts
// Shutdown events: exactly one, no matter how much traffic follows.
func TestShutdownBroadcastOnce(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	observer := b.Subscribe()
	m := startMonitor(t, b)

	b.Publish(event.Increment(event.ServiceFetcher))
	b.Publish(event.Decrement(event.ServiceFetcher))
	require.Eventually(t, m.ShutdownSent, time.Second, 5*time.Millisecond)

	// More balanced pairs after the broadcast must not produce another one.
	b.Publish(event.Increment(event.ServiceCategories))
	b.Publish(event.Decrement(event.ServiceCategories))

	shutdowns := 0
	drained := false
	for !drained {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		evt, err := observer.Receive(ctx)
		cancel()
		if err != nil {
			drained = true
			continue
		}
		if _, ok := evt.(event.Shutdown); ok {
			shutdowns++
		}
	}
	require.Equal(t, 1, shutdowns)
}

// TestUnderflowIsClampedNotWrapped publishes a decrement with no matching
// increment; the counter must stay at zero and shutdown must not fire off a
// phantom transition.
func TestUnderflowIsClampedNotWrapped(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := startMonitor(t, b)

	b.Publish(event.Decrement(event.ServiceFetcher))

	// Give the monitor time to process; the state must be untouched.
	time.Sleep(50 * time.Millisecond)
	s := statusFor(m, event.ServiceFetcher)
	require.Equal(t, 0, s.ActiveCount)
	require.Equal(t, PhaseInitialized, s.Phase)
	require.False(t, m.ShutdownSent())
}

// TestMonitorExitsOnShutdown verifies the run loop stops processing once it
// observes a Shutdown published by someone else.
func TestMonitorExitsOnShutdown(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	m := NewMonitor(b, zap.NewNop())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background())
	}()

	b.Publish(event.Shutdown{})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit on shutdown")
	}
}
