package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   int
	Name string
}

func TestQueue_New(t *testing.T) {
	q := New[testItem]()
	require.NotNil(t, q)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PushPop(t *testing.T) {
	q := New[testItem]()

	_, ok := q.Pop()
	assert.False(t, ok, "pop on empty queue")

	q.Push(testItem{ID: 1, Name: "first"}, testItem{ID: 2, Name: "second"})
	assert.Equal(t, 2, q.Len())

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, testItem{ID: 1, Name: "first"}, first)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	assert.Equal(t, []int{1, 2, 3}, q.GetAndEmpty())
	assert.True(t, q.Empty())
	assert.Empty(t, q.GetAndEmpty())
}

func TestQueue_BoundedDropsOldest(t *testing.T) {
	q := NewBounded[int](3)
	q.Push(1, 2)
	q.Push(3, 4, 5)

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []int{3, 4, 5}, q.GetAndEmpty())
}

func TestQueue_NonPositiveLimitIsUnbounded(t *testing.T) {
	q := NewBounded[int](0)
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}
	assert.Equal(t, 1000, q.Len())
	assert.Zero(t, q.Dropped())
}

func TestQueue_Requeue(t *testing.T) {
	q := New[int]()
	q.Push(4, 5)
	q.Requeue([]int{1, 2, 3})
	assert.Equal(t, []int{1, 2, 3, 4, 5}, q.GetAndEmpty())
}

func TestQueue_RequeueRespectsLimit(t *testing.T) {
	q := NewBounded[int](4)
	q.Push(10, 11)

	// only the two newest requeued items fit
	q.Requeue([]int{1, 2, 3})
	assert.Equal(t, []int{2, 3, 10, 11}, q.GetAndEmpty())
	assert.Equal(t, uint64(1), q.Dropped())

	q.Push(1, 2, 3, 4)
	q.Requeue([]int{9})
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[testItem]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.Push(testItem{ID: id})
		}(i)
	}
	wg.Wait()
	require.Equal(t, 100, q.Len())

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Pop()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

func TestQueue_ConcurrentGetAndEmpty(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	var wg sync.WaitGroup
	results := make(chan []int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.GetAndEmpty()
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for r := range results {
		total += len(r)
	}
	assert.Equal(t, 100, total)
}
