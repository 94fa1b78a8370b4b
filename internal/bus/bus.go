// Package bus implements the in-process asynchronous message bus: named
// topic queues, multi-subscriber fan-out, and handler isolation from
// producer latency and from each other's panics.
//
// Delivery is at-most-once per subscriber and FIFO within a topic across
// a single consumer goroutine; fan-out to multiple handlers for the same
// message dispatches them concurrently and gives no ordering guarantee
// between handlers. A handler that blocks forever blocks only itself —
// it never stalls the topic's dequeue loop.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

// DefaultQueueCapacity bounds each topic's queue. The reference design
// is unbounded; this implementation caps it and drops the oldest
// message on overflow rather than blocking Publish forever, logging the
// drop so operators can see it.
const DefaultQueueCapacity = 4096

// Handler processes one message delivered on a topic. It returns
// nothing, so failures are the handler's own to log; Bus recovers and
// logs panics.
type Handler func(ctx context.Context, msg busmodel.Message)

type topicQueue struct {
	mu       sync.Mutex
	handlers []Handler
	queue    chan busmodel.Message
	started  bool
}

// Bus is the event-driven fabric every NEXUS service talks over.
type Bus struct {
	logger *slog.Logger
	cap    int

	mu      sync.Mutex
	topics  map[busmodel.Topic]*topicQueue
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Bus. logger defaults to slog.Default() when nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		cap:    DefaultQueueCapacity,
		topics: make(map[busmodel.Topic]*topicQueue),
	}
}

// topic returns t's queue, creating it on first reference. If the bus
// is already running, it also ensures a consumer goroutine is started
// for it — Subscribe/Publish may be the first thing to name a topic
// well after Run, and that topic must still be served.
func (b *Bus) topic(t busmodel.Topic) *topicQueue {
	b.mu.Lock()
	tq, ok := b.topics[t]
	if !ok {
		tq = &topicQueue{queue: make(chan busmodel.Message, b.cap)}
		b.topics[t] = tq
	}
	running := b.running
	ctx := b.runCtx
	b.mu.Unlock()

	if running {
		b.ensureConsumer(t, tq, ctx)
	}
	return tq
}

// ensureConsumer starts tq's dequeue loop exactly once.
func (b *Bus) ensureConsumer(t busmodel.Topic, tq *topicQueue, ctx context.Context) {
	tq.mu.Lock()
	if tq.started {
		tq.mu.Unlock()
		return
	}
	tq.started = true
	tq.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, t, tq)
	}()
}

// Subscribe registers handler on topic. Idempotently creates the
// topic's queue; multiple handlers per topic are supported and all are
// invoked for every message published after registration.
func (b *Bus) Subscribe(t busmodel.Topic, h Handler) {
	tq := b.topic(t)
	tq.mu.Lock()
	tq.handlers = append(tq.handlers, h)
	tq.mu.Unlock()
}

// Publish enqueues msg on topic. It never blocks the caller beyond
// queue backpressure, and never returns an error: the topic's queue is
// created on first reference, and a message dequeued while the topic
// has no subscribers is dropped, logged at debug level, matching the
// reference bus's "fails silently" contract.
func (b *Bus) Publish(t busmodel.Topic, msg busmodel.Message) {
	tq := b.topic(t)
	select {
	case tq.queue <- msg:
	default:
		// Queue full: drop the oldest to make room, log, then enqueue.
		select {
		case <-tq.queue:
			b.logger.Warn("bus queue overflow, dropping oldest message", "topic", string(t))
		default:
		}
		select {
		case tq.queue <- msg:
		default:
			b.logger.Error("bus queue still full after drop, message lost", "topic", string(t), "msg_id", msg.ID)
		}
	}
}

// Run starts one consumer goroutine per topic known at invocation time
// (i.e. every topic that has had at least one Subscribe or Publish
// call) and arranges for any topic named for the first time afterward
// to get its consumer started lazily, on first reference, rather than
// requiring every Subscribe call to precede Run. Each loop dequeues
// messages in publish order and dispatches every message to all
// registered handlers concurrently; handler panics are recovered and
// logged, never propagated to the loop.
func (b *Bus) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.runCtx = ctx
	b.running = true
	topics := make(map[busmodel.Topic]*topicQueue, len(b.topics))
	for t, tq := range b.topics {
		topics[t] = tq
	}
	b.mu.Unlock()

	for t, tq := range topics {
		b.ensureConsumer(t, tq, ctx)
	}
}

func (b *Bus) consume(ctx context.Context, t busmodel.Topic, tq *topicQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-tq.queue:
			tq.mu.Lock()
			handlers := make([]Handler, len(tq.handlers))
			copy(handlers, tq.handlers)
			tq.mu.Unlock()
			if len(handlers) == 0 {
				b.logger.Debug("bus message dropped, no subscribers", "topic", string(t), "msg_id", msg.ID)
			}

			for _, h := range handlers {
				h := h
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					defer b.recoverPanic(t, msg)
					h(ctx, msg)
				}()
			}
		}
	}
}

func (b *Bus) recoverPanic(t busmodel.Topic, msg busmodel.Message) {
	if r := recover(); r != nil {
		b.logger.Error("bus handler panicked",
			"topic", string(t),
			"msg_id", msg.ID,
			"run_id", msg.RunID,
			"panic", r,
		)
	}
}

// Shutdown cancels all consumer loops and waits for in-flight handlers
// to return.
func (b *Bus) Shutdown() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
