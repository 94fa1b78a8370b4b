package boundary

import (
	"encoding/json"
	"net/http"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

type commandSubmitPayload struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

// handleCommandSubmit implements POST /commands: a signed invocation of
// one of the names GET /commands enumerates. The command travels the
// bus exactly like every other side channel — this handler never
// resolves the name itself, so an unknown command still makes it to
// internal/commands and comes back as a command.result on the caller's
// persistent stream, per the closed command surface's contract.
func (h *Handler) handleCommandSubmit(w http.ResponseWriter, r *http.Request) {
	ownerKey, payload, ok := h.authenticateSigned(w, r)
	if !ok {
		return
	}

	var body commandSubmitPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		h.jsonError(w, "malformed payload", http.StatusUnprocessableEntity)
		return
	}
	if body.Name == "" {
		h.jsonError(w, "missing command name", http.StatusUnprocessableEntity)
		return
	}

	msg := busmodel.NewMessage("", ownerKey, busmodel.RoleCommand, map[string]any{
		"name":     body.Name,
		"args":     body.Args,
		"raw_text": "/" + body.Name + " " + body.Args,
		"is_admin": false,
	})
	h.b.Publish(busmodel.TopicSystemCommand, msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"status": "queued"})
}
