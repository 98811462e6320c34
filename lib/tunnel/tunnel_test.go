package tunnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	opens     int
	failUntil int
	lost      chan struct{}
	closed    bool
}

func (f *fakeProvider) Open(ctx context.Context, port int) (string, <-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.failUntil {
		return "", nil, trace.ConnectionProblem(nil, "provider unavailable")
	}
	f.lost = make(chan struct{})
	return "https://example.loca.lt", f.lost, nil
}

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.lost != nil {
		close(f.lost)
		f.lost = nil
	}
	return nil
}

func TestConnectSucceedsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	provider := &fakeProvider{}
	sup, err := New(Config{Provider: provider, Clock: clock})
	require.NoError(t, err)

	var events []Event
	var mu sync.Mutex
	sup.OnEvent(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	require.NoError(t, sup.Connect(context.Background(), 3004))
	require.Equal(t, StateConnected, sup.State())
	require.Equal(t, "https://example.loca.lt", sup.URL())
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	provider := &fakeProvider{failUntil: 10}
	sup, err := New(Config{Provider: provider, Clock: clock, MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	require.NoError(t, err)

	err = sup.Connect(context.Background(), 3004)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return sup.State() == StateError
	}, time.Second, time.Millisecond)
}

func TestDisconnectClearsReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	provider := &fakeProvider{}
	sup, err := New(Config{Provider: provider, Clock: clock})
	require.NoError(t, err)

	require.NoError(t, sup.Connect(context.Background(), 3004))
	require.NoError(t, sup.Disconnect())
	require.Eventually(t, func() bool {
		return sup.State() == StateDisconnected
	}, time.Second, time.Millisecond)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second
	require.Equal(t, base, backoffDelay(1, base, max))
	require.Equal(t, 2*time.Second, backoffDelay(2, base, max))
	require.Equal(t, 4*time.Second, backoffDelay(3, base, max))
	require.Equal(t, max, backoffDelay(100, base, max))
}
