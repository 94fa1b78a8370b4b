package boundary

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wowyuarm/nexus/internal/walletauth"
)

// signedEnvelope is the wire shape of every signature-gated request
// body: a raw payload string (the exact bytes the client signed) plus
// the detached signature over it. Wrapping the signed bytes in a string
// field, rather than signing the request body verbatim, avoids the
// self-reference problem of a signature covering its own envelope.
type signedEnvelope struct {
	Payload string `json:"payload"`
	Auth    struct {
		PublicKey string `json:"publicKey"`
		Signature string `json:"signature"`
	} `json:"auth"`
}

// bearerKey extracts the raw public key from an "Authorization: Bearer
// <key>" header.
func bearerKey(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	key := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if key == "" {
		return "", false
	}
	return key, true
}

// authenticateBearer enforces the missing-bearer 401 rule for
// read-only endpoints that don't require a signed body.
func (h *Handler) authenticateBearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, ok := bearerKey(r)
	if !ok {
		h.jsonError(w, "missing bearer public key", http.StatusUnauthorized)
		return "", false
	}
	return key, true
}

// authenticateSigned enforces bearer presence, bearer-equals-auth.publicKey,
// and a valid detached signature over the envelope's payload string.
// It returns the verified owner key and the raw payload bytes for the
// caller to unmarshal.
func (h *Handler) authenticateSigned(w http.ResponseWriter, r *http.Request) (ownerKey string, payload []byte, ok bool) {
	bearer, present := bearerKey(r)
	if !present {
		h.jsonError(w, "missing bearer public key", http.StatusUnauthorized)
		return "", nil, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.jsonError(w, "could not read request body", http.StatusBadRequest)
		return "", nil, false
	}

	var env signedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.jsonError(w, "malformed request body", http.StatusUnprocessableEntity)
		return "", nil, false
	}
	if env.Auth.PublicKey != bearer {
		h.jsonError(w, "bearer header does not match auth.publicKey", http.StatusForbidden)
		return "", nil, false
	}

	if _, err := walletauth.VerifySignature(env.Payload, walletauth.Auth{
		PublicKey: env.Auth.PublicKey,
		Signature: env.Auth.Signature,
	}); err != nil {
		h.jsonError(w, err.Error(), http.StatusForbidden)
		return "", nil, false
	}

	return bearer, []byte(env.Payload), true
}
