package aggregation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainKeepsOrder(t *testing.T) {
	q := newQueue()
	for i, amount := range []string{"1", "2", "3"} {
		depth := q.push(xrpSent("rAlice", "rBob", amount, noonD.Add(time.Duration(i)*time.Second)))
		assert.Equal(t, i+1, depth)
	}

	batch := q.drain()
	require.Len(t, batch, 3)
	assert.True(t, batch[0].Amount.Equal(dec("1")))
	assert.True(t, batch[2].Amount.Equal(dec("3")))
	assert.Equal(t, 0, q.len())
	assert.Empty(t, q.drain())
}

func TestQueue_PushAfterDrainStartsNewBatch(t *testing.T) {
	q := newQueue()
	q.push(xrpSent("rAlice", "rBob", "1", noonD))

	first := q.drain()
	q.push(xrpSent("rAlice", "rBob", "2", noonD))

	assert.Len(t, first, 1)
	second := q.drain()
	require.Len(t, second, 1)
	assert.True(t, second[0].Amount.Equal(dec("2")))
}

func TestQueue_NotifyDoesNotBlock(t *testing.T) {
	q := newQueue()
	for i := 0; i < 100; i++ {
		q.push(xrpSent("rAlice", "rBob", "1", noonD))
	}

	select {
	case <-q.notify:
	default:
		t.Fatal("expected a pending notification")
	}
	assert.Equal(t, 100, q.len())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := newQueue()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.push(xrpSent("rAlice", "rBob", "1", noonD))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.drain(), 2000)
}
