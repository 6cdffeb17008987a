package companion

import (
	"net/http"

	"github.com/florianilch/mcpcreds/internal/tokenstore"
	"github.com/florianilch/mcpcreds/internal/trust"
)

// TrustChange is the body of POST /trust.
type TrustChange struct {
	Trusted *bool `json:"trusted"`
}

// TrustState is returned by the trust routes.
type TrustState struct {
	Trust string `json:"trust"`
}

// StorageState is returned by GET /storage.
type StorageState struct {
	Kind tokenstore.Kind `json:"kind"`
}

type handlers struct {
	publisher TrustPublisher
	storage   StorageReporter
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *handlers) getTrust(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, TrustState{Trust: h.publisher.Current().String()}, http.StatusOK)
}

func (h *handlers) postTrust(w http.ResponseWriter, r *http.Request) {
	var change TrustChange
	if err := readJSON(w, r, &change); err != nil {
		writeJSONError(r.Context(), w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if change.Trusted == nil {
		writeJSONError(r.Context(), w, `missing field "trusted"`, http.StatusBadRequest)
		return
	}

	h.publisher.Publish(*change.Trusted)
	writeJSON(r.Context(), w, TrustState{Trust: trust.VerdictOf(*change.Trusted).String()}, http.StatusOK)
}

func (h *handlers) getStorage(w http.ResponseWriter, r *http.Request) {
	// Kind resolves backend selection on first use, which may probe the keyring
	writeJSON(r.Context(), w, StorageState{Kind: h.storage.Kind()}, http.StatusOK)
}
