package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

func TestPublishSubscribeFIFO(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var got []string

	done := make(chan struct{}, 3)
	b.Subscribe(busmodel.TopicUIEvents, func(ctx context.Context, msg busmodel.Message) {
		mu.Lock()
		got = append(got, msg.ID)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)

	ids := []string{"msg_1", "msg_2", "msg_3"}
	for _, id := range ids {
		b.Publish(busmodel.TopicUIEvents, busmodel.Message{ID: id})
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("FIFO violated: got[%d]=%s want %s", i, got[i], id)
		}
	}
}

func TestMultiSubscriberFanOut(t *testing.T) {
	b := New(nil)
	var count int32
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	wg.Add(2)

	handler := func(ctx context.Context, msg busmodel.Message) {
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
	}
	b.Subscribe(busmodel.TopicToolsResults, handler)
	b.Subscribe(busmodel.TopicToolsResults, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)
	b.Publish(busmodel.TopicToolsResults, busmodel.Message{ID: "msg_1"})

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected both subscribers invoked, got count=%d", count)
	}
}

func TestPublishWithNoSubscribersIsSilent(t *testing.T) {
	b := New(nil)
	// No Subscribe call, so the topic consumer loop never starts; Publish
	// must not block or panic.
	b.Publish(busmodel.TopicSystemCommand, busmodel.Message{ID: "msg_1"})
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := New(nil)
	wg := sync.WaitGroup{}
	wg.Add(2)

	b.Subscribe(busmodel.TopicLLMResults, func(ctx context.Context, msg busmodel.Message) {
		defer wg.Done()
		panic("boom")
	})
	var secondRan bool
	var mu sync.Mutex
	b.Subscribe(busmodel.TopicLLMResults, func(ctx context.Context, msg busmodel.Message) {
		defer wg.Done()
		mu.Lock()
		secondRan = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)
	b.Publish(busmodel.TopicLLMResults, busmodel.Message{ID: "msg_1"})

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if !secondRan {
		t.Fatal("sibling handler did not run after a panicking handler")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
