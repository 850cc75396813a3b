package api

import (
	"context"
	"net/http"
	"time"
)

// Health reports readiness of the datastore and the session store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeFailure(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if err := h.sessionManager().Ping(ctx); err != nil {
		writeFailure(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeReply(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}
