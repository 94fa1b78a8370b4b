package boundary

import (
	"encoding/json"
	"net/http"
)

type overridesPayload struct {
	Overrides map[string]any `json:"overrides"`
}

// handleConfig implements GET/POST /config: read or replace a caller's
// config_overrides. POST requires the signed-envelope body spec.md
// describes for every REST write.
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bearer, ok := h.authenticateBearer(w, r)
		if !ok {
			return
		}
		profile := h.identity.GetEffectiveProfile(r.Context(), bearer, h.defaults)
		h.jsonResponse(w, map[string]any{
			"effective_config": profile.EffectiveConfig,
			"user_overrides":   profile.UserOverrides["config"],
			"editable_fields":  profile.EditableFields,
			"field_options":    profile.FieldOptions,
		})
	case http.MethodPost:
		ownerKey, payload, ok := h.authenticateSigned(w, r)
		if !ok {
			return
		}
		var body overridesPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			h.jsonError(w, "malformed payload", http.StatusUnprocessableEntity)
			return
		}
		if err := h.identity.UpdateUserConfig(r.Context(), ownerKey, body.Overrides); err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		profile := h.identity.GetEffectiveProfile(r.Context(), ownerKey, h.defaults)
		h.jsonResponse(w, map[string]any{"effective_config": profile.EffectiveConfig})
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePrompts implements GET/POST /prompts, mirroring handleConfig
// for the prompt_overrides side of a profile.
func (h *Handler) handlePrompts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bearer, ok := h.authenticateBearer(w, r)
		if !ok {
			return
		}
		profile := h.identity.GetEffectiveProfile(r.Context(), bearer, h.defaults)
		h.jsonResponse(w, map[string]any{
			"effective_prompts": profile.EffectivePrompts,
			"user_overrides":    profile.UserOverrides["prompts"],
		})
	case http.MethodPost:
		ownerKey, payload, ok := h.authenticateSigned(w, r)
		if !ok {
			return
		}
		var body overridesPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			h.jsonError(w, "malformed payload", http.StatusUnprocessableEntity)
			return
		}
		if err := h.identity.UpdateUserPrompts(r.Context(), ownerKey, body.Overrides); err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		profile := h.identity.GetEffectiveProfile(r.Context(), ownerKey, h.defaults)
		h.jsonResponse(w, map[string]any{"effective_prompts": profile.EffectivePrompts})
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
