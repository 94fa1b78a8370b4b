package boundary

import (
	"encoding/json"
	"sync"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

// sseFrame is one `event: <type>\ndata: <json>\n\n` frame queued for a
// connected client.
type sseFrame struct {
	event string
	data  []byte
}

const queueCapacity = 64

// runQueues owns the per-run SSE queues: registration is atomic against
// lookup (the ui.events router and the HTTP handler that registers a
// queue for a freshly created run must never race past each other).
type runQueues struct {
	mu sync.Mutex
	m  map[string]chan sseFrame
}

func newRunQueues() *runQueues {
	return &runQueues{m: make(map[string]chan sseFrame)}
}

func (q *runQueues) register(runID string) chan sseFrame {
	ch := make(chan sseFrame, queueCapacity)
	q.mu.Lock()
	q.m[runID] = ch
	q.mu.Unlock()
	return ch
}

func (q *runQueues) unregister(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.m, runID)
}

// route delivers a ui.events message to its run's queue, if one is
// registered. Delivery is best-effort: a full queue drops the frame
// rather than blocking the bus's dispatch goroutine.
func (q *runQueues) route(msg busmodel.Message) {
	content, ok := msg.AsMap()
	if !ok {
		return
	}
	runID, _ := content["run_id"].(string)
	event, _ := content["event"].(string)
	if runID == "" || event == "" {
		return
	}

	q.mu.Lock()
	ch, exists := q.m[runID]
	q.mu.Unlock()
	if !exists {
		return
	}

	data, _ := json.Marshal(map[string]any{"run_id": runID, "payload": content["payload"]})
	select {
	case ch <- sseFrame{event: event, data: data}:
	default:
	}

	if event == "run_finished" {
		q.unregister(runID)
		close(ch)
	}
}

// ownerQueues owns the persistent per-owner queues GET /stream/{public_key}
// connections read from, fed by command.result events.
type ownerQueues struct {
	mu sync.Mutex
	m  map[string]chan sseFrame
}

func newOwnerQueues() *ownerQueues {
	return &ownerQueues{m: make(map[string]chan sseFrame)}
}

func (q *ownerQueues) register(ownerKey string) chan sseFrame {
	ch := make(chan sseFrame, queueCapacity)
	q.mu.Lock()
	q.m[ownerKey] = ch
	q.mu.Unlock()
	return ch
}

func (q *ownerQueues) unregister(ownerKey string, ch chan sseFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.m[ownerKey] == ch {
		delete(q.m, ownerKey)
	}
}

func (q *ownerQueues) route(msg busmodel.Message) {
	content, ok := msg.AsMap()
	if !ok {
		return
	}
	q.mu.Lock()
	ch, exists := q.m[msg.OwnerKey]
	q.mu.Unlock()
	if !exists {
		return
	}
	data, _ := json.Marshal(content)
	select {
	case ch <- sseFrame{event: "command_result", data: data}:
	default:
	}
}
