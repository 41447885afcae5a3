package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOptions() MemoryOptions {
	return MemoryOptions{Partitions: 4, Buffer: 64, MaxAttempts: 3, RetryBackoff: time.Millisecond}
}

func TestMemoryChannel_DeliversInKeyOrder(t *testing.T) {
	ch := NewMemoryChannel(fastOptions())
	defer ch.Close()

	var (
		mu  sync.Mutex
		got = map[string][]string{}
		wg  sync.WaitGroup
	)
	wg.Add(20)
	require.NoError(t, ch.Subscribe(context.Background(), "t", func(_ context.Context, m Message) error {
		mu.Lock()
		got[m.Key] = append(got[m.Key], string(m.Body))
		mu.Unlock()
		wg.Done()
		return nil
	}))

	for i := 0; i < 10; i++ {
		for _, key := range []string{"a", "b"} {
			require.NoError(t, ch.Publish(context.Background(), "t", key, []byte(fmt.Sprint(i))))
		}
	}
	wg.Wait()

	want := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	assert.Equal(t, want, got["a"])
	assert.Equal(t, want, got["b"])
	assert.Equal(t, int64(20), ch.Stats().Delivered)
}

func TestMemoryChannel_RedeliversUntilSuccess(t *testing.T) {
	ch := NewMemoryChannel(fastOptions())
	defer ch.Close()

	done := make(chan int, 1)
	require.NoError(t, ch.Subscribe(context.Background(), "t", func(_ context.Context, m Message) error {
		if m.Attempt < 2 {
			return errors.New("transient")
		}
		done <- m.Attempt
		return nil
	}))
	require.NoError(t, ch.Publish(context.Background(), "t", "k", []byte("x")))

	select {
	case attempt := <-done:
		assert.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int64(1), ch.Stats().Redelivered)
}

func TestMemoryChannel_DropsAfterMaxAttempts(t *testing.T) {
	ch := NewMemoryChannel(fastOptions())

	var (
		mu       sync.Mutex
		attempts int
	)
	require.NoError(t, ch.Subscribe(context.Background(), "t", func(context.Context, Message) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("permanent")
	}))
	require.NoError(t, ch.Publish(context.Background(), "t", "k", nil))

	require.Eventually(t, func() bool { return ch.Stats().Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ch.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestMemoryChannel_BuffersBeforeSubscribe(t *testing.T) {
	ch := NewMemoryChannel(fastOptions())
	defer ch.Close()

	require.NoError(t, PublishJSON(context.Background(), ch, "t", "k", map[string]string{"hello": "world"}))

	got := make(chan map[string]string, 1)
	require.NoError(t, ch.Subscribe(context.Background(), "t", func(_ context.Context, m Message) error {
		var v map[string]string
		if err := DecodeJSON(m, &v); err != nil {
			return err
		}
		got <- v
		return nil
	}))

	select {
	case v := <-got:
		assert.Equal(t, "world", v["hello"])
	case <-time.After(2 * time.Second):
		t.Fatal("buffered message not delivered")
	}
}

func TestMemoryChannel_Closed(t *testing.T) {
	ch := NewMemoryChannel(fastOptions())
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	assert.ErrorIs(t, ch.Publish(context.Background(), "t", "k", nil), ErrClosed)
	assert.ErrorIs(t, ch.Subscribe(context.Background(), "t", func(context.Context, Message) error { return nil }), ErrClosed)
}

func TestMemoryChannel_PublishHonoursContextWhenFull(t *testing.T) {
	ch := NewMemoryChannel(MemoryOptions{Partitions: 1, Buffer: 1})
	defer ch.Close()

	require.NoError(t, ch.Publish(context.Background(), "t", "k", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Publish(ctx, "t", "k", nil), context.DeadlineExceeded)
}

func TestMemoryChannel_WithConcurrencyRunsHandlersTogether(t *testing.T) {
	opts := fastOptions()
	opts.Partitions = 1
	ch := NewMemoryChannel(opts)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var arrived sync.WaitGroup
	arrived.Add(4)
	release := make(chan struct{})
	require.NoError(t, ch.Subscribe(ctx, "t", func(context.Context, Message) error {
		arrived.Done()
		<-release
		return nil
	}, WithConcurrency(4)))

	for i := 0; i < 4; i++ {
		require.NoError(t, ch.Publish(ctx, "t", "same-key", []byte(fmt.Sprint(i))))
	}

	inFlight := make(chan struct{})
	go func() {
		arrived.Wait()
		close(inFlight)
	}()
	select {
	case <-inFlight:
	case <-time.After(time.Second):
		t.Fatal("handlers on one partition did not run concurrently")
	}
	close(release)
	assert.Eventually(t, func() bool { return ch.Stats().Delivered == 4 }, time.Second, time.Millisecond)
}
