package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These exercise the package-internal batching primitives directly, since
// a real ClickHouse connection isn't available to this test binary; New's
// clickhouse.Open wiring is left to be grounded against a live instance.

func TestBatchLoop_FlushesOnMaxRows(t *testing.T) {
	ch := make(chan int)
	var flushed [][]int
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		batchLoop(ch, 3, time.Hour, func(batch []int) {
			mu.Lock()
			flushed = append(flushed, append([]int(nil), batch...))
			mu.Unlock()
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		ch <- i
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, time.Millisecond)

	close(ch)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, [][]int{{0, 1, 2}}, flushed)
}

func TestBatchLoop_FlushesOnInterval(t *testing.T) {
	ch := make(chan int)
	var flushed [][]int
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		batchLoop(ch, 100, 10*time.Millisecond, func(batch []int) {
			mu.Lock()
			flushed = append(flushed, append([]int(nil), batch...))
			mu.Unlock()
		})
		close(done)
	}()

	ch <- 7

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1 && len(flushed[0]) == 1
	}, time.Second, time.Millisecond)

	close(ch)
	<-done
}

func TestBatchLoop_FlushesPartialBatchOnClose(t *testing.T) {
	ch := make(chan int, 2)
	var flushed [][]int

	ch <- 1
	ch <- 2
	close(ch)

	batchLoop(ch, 100, time.Hour, func(batch []int) {
		flushed = append(flushed, batch)
	})

	require.Equal(t, [][]int{{1, 2}}, flushed)
}

func TestEnqueue_DropsWhenChannelFull(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 1 // fill it

	// Should not block: the second send is dropped.
	done := make(chan struct{})
	go func() {
		enqueue(context.Background(), ch, 2, "test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full channel")
	}

	require.Equal(t, 1, <-ch)
}

func TestMarshalOrEmpty(t *testing.T) {
	b := marshalOrEmpty(map[string]string{"a": "b"})
	require.JSONEq(t, `{"a":"b"}`, string(b))

	b = marshalOrEmpty(make(chan int)) // unmarshalable
	require.Equal(t, "{}", string(b))
}
