package boundary

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

const sseKeepaliveInterval = 15 * time.Second

type chatRequest struct {
	UserInput            string `json:"user_input"`
	ClientTimestampUTC   string `json:"client_timestamp_utc"`
	ClientTimezoneOffset int    `json:"client_timezone_offset"`
}

// handleChat implements POST /chat: create a Run, publish runs.new,
// and stream every ui.events message carrying that run's id back to
// the caller as an SSE frame until run_finished closes the stream.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerKey, payload, ok := h.authenticateSigned(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.jsonError(w, "malformed payload", http.StatusUnprocessableEntity)
		return
	}
	if req.UserInput == "" {
		h.jsonError(w, "user_input is required", http.StatusUnprocessableEntity)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	run := busmodel.NewRun(ownerKey, req.UserInput, req.ClientTimestampUTC, req.ClientTimezoneOffset)
	ch := h.runs.register(run.ID)
	h.metrics.activeRuns.Inc()
	h.metrics.chatRequests.Inc()
	defer func() {
		h.runs.unregister(run.ID)
		h.metrics.activeRuns.Dec()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.b.Publish(busmodel.TopicRunsNew, busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, run))

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case frame, open := <-ch:
			if !open {
				return
			}
			writeSSEFrame(w, frame)
			flusher.Flush()
			if frame.event == "run_finished" {
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, frame sseFrame) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, frame.data)
}
