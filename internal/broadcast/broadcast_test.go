package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func TestBroadcaster_DeliversInPublishOrder(t *testing.T) {
	b := New[int](nil)
	var first, second recorder[int]
	b.Subscribe(first.add)
	b.Subscribe(second.add)

	expected := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		b.Publish(i)
		expected = append(expected, i)
	}

	require.Eventually(t, func() bool { return len(second.snapshot()) == 100 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, expected, first.snapshot(), "every observer MUST see values in publish order")
	assert.Equal(t, expected, second.snapshot())
}

func TestBroadcaster_LateSubscriberSeesOnlyLaterValues(t *testing.T) {
	b := New[string](nil)
	b.Publish("lost")

	var rec recorder[string]
	b.Subscribe(rec.add)
	b.Publish("kept")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"kept"}, rec.snapshot())
}

func TestBroadcaster_ReplayHandsLatestFirst(t *testing.T) {
	b := NewReplay[string]("initial", nil)
	b.Publish("a")
	b.Publish("b")

	var rec recorder[string]
	b.Subscribe(rec.add)
	b.Publish("c")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b", "c"}, rec.snapshot())
}

func TestBroadcaster_CancelStopsDelivery(t *testing.T) {
	b := New[int](nil)
	var rec recorder[int]
	cancel := b.Subscribe(rec.add)
	assert.Equal(t, 1, b.Len())

	cancel()
	cancel()
	b.Publish(1)

	assert.Equal(t, 0, b.Len())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestBroadcaster_ObserverMayPublishReentrantly(t *testing.T) {
	b := New[int](nil)
	var rec recorder[int]
	b.Subscribe(func(v int) {
		rec.add(v)
		if v < 3 {
			b.Publish(v + 1)
		}
	})

	b.Publish(0)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3}, rec.snapshot())
}

func TestBroadcaster_PanickingObserverDoesNotStopOthers(t *testing.T) {
	var panics recorder[any]
	b := New[int](panics.add)
	var rec recorder[int]
	b.Subscribe(func(int) { panic("boom") })
	b.Subscribe(rec.add)

	b.Publish(7)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"boom"}, panics.snapshot())
}
