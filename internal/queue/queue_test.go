package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushInvokeAll(t *testing.T) {
	q := New()

	ran := false
	require.True(t, q.Push(func() { ran = true }))
	assert.Equal(t, 1, q.Len())

	n := q.InvokeAll()
	assert.Equal(t, 1, n)
	assert.True(t, ran)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FIFO(t *testing.T) {
	q := New()

	var order []int
	for i := 1; i <= 5; i++ {
		q.Push(func() { order = append(order, i) })
	}

	q.InvokeAll()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestQueue_PushNil(t *testing.T) {
	q := New()
	assert.False(t, q.Push(nil))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_InvokeAll_Empty(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.InvokeAll())
}

func TestQueue_WorkQueuedDuringDrainRunsNextDrain(t *testing.T) {
	q := New()

	var log []string
	q.Push(func() {
		log = append(log, "first")
		q.Push(func() { log = append(log, "follow-up") })
	})
	q.Push(func() { log = append(log, "second") })

	assert.Equal(t, 2, q.InvokeAll())
	assert.Equal(t, []string{"first", "second"}, log)
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 1, q.InvokeAll())
	assert.Equal(t, []string{"first", "second", "follow-up"}, log)
}

func TestQueue_InvokeAll_NotReentrant(t *testing.T) {
	q := New()

	nested := -1
	q.Push(func() { nested = q.InvokeAll() })
	q.Push(func() {})

	assert.Equal(t, 2, q.InvokeAll())
	assert.Equal(t, 0, nested, "nested drain must not run anything")
}

func TestQueue_TryInvokeAll_ReportsDrain(t *testing.T) {
	q := New()

	n, ok := q.TryInvokeAll()
	assert.True(t, ok, "an empty queue still drains")
	assert.Equal(t, 0, n)

	nestedOK := true
	q.Push(func() { _, nestedOK = q.TryInvokeAll() })
	n, ok = q.TryInvokeAll()
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.False(t, nestedOK, "nested call must not report a drain")

	q.Close()
	_, ok = q.TryInvokeAll()
	assert.False(t, ok)
}

func TestQueue_Close(t *testing.T) {
	q := New()

	ran := false
	q.Push(func() { ran = true })
	q.Close()

	assert.True(t, q.Closed())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Push(func() { ran = true }))
	assert.Equal(t, 0, q.InvokeAll())
	assert.False(t, ran)
}

func TestQueue_Close_Idempotent(t *testing.T) {
	q := New()
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestQueue_CloseDuringDrainDiscardsRest(t *testing.T) {
	q := New()

	var log []string
	q.Push(func() { log = append(log, "a") })
	q.Push(func() {
		log = append(log, "b")
		q.Close()
	})
	q.Push(func() { log = append(log, "c") })

	assert.Equal(t, 2, q.InvokeAll())
	assert.Equal(t, []string{"a", "b"}, log)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PanicRequeuesRemainder(t *testing.T) {
	q := New()

	var log []string
	q.Push(func() { log = append(log, "a") })
	q.Push(func() { panic("boom") })
	q.Push(func() { log = append(log, "c") })

	assert.PanicsWithValue(t, "boom", func() { q.InvokeAll() })
	assert.Equal(t, []string{"a"}, log)
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 1, q.InvokeAll())
	assert.Equal(t, []string{"a", "c"}, log)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()

	const producers = 8
	const perProducer = 500

	var mu sync.Mutex
	seen := make(map[int][]int, producers)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				})
			}
		}(p)
	}

	// Drain concurrently with producers from a single consumer.
	done := make(chan struct{})
	total := 0
	go func() {
		defer close(done)
		for total < producers*perProducer {
			total += q.InvokeAll()
		}
	}()

	wg.Wait()
	<-done

	assert.Equal(t, producers*perProducer, total)
	for p := 0; p < producers; p++ {
		require.Len(t, seen[p], perProducer, "producer %d", p)
		for i, v := range seen[p] {
			require.Equal(t, i, v, "producer %d order", p)
		}
	}
}

func TestQueue_Seal(t *testing.T) {
	q := New()

	var log []string
	q.Push(func() { log = append(log, "before") })

	assert.True(t, q.Seal())
	assert.False(t, q.Seal(), "second seal reports already sealed")
	assert.False(t, q.Push(func() { log = append(log, "after") }))

	assert.Equal(t, 1, q.InvokeAll())
	assert.Equal(t, []string{"before"}, log)
	assert.False(t, q.Closed())
}

func TestQueue_SealedRejectsPushFromClosure(t *testing.T) {
	q := New()

	ran := false
	q.Push(func() {
		q.Seal()
		assert.False(t, q.Push(func() { ran = true }))
	})

	q.InvokeAll()
	assert.Equal(t, 0, q.InvokeAll())
	assert.False(t, ran)
}
