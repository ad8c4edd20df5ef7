package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes caps webhook payloads.
const MaxBodyBytes = 64 << 10

type Handler struct {
	reconciler *Reconciler
	secret     string
	log        *slog.Logger
}

func NewHandler(reconciler *Reconciler, secret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reconciler: reconciler, secret: secret, log: log}
}

// ServeHTTP answers 200 only once the event id is durably recorded.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	if err := Verify(payload, r.Header.Get("Stripe-Signature"), h.secret); err != nil {
		h.log.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}
	ev, err := Decode(payload)
	if err != nil {
		h.log.Warn("webhook payload rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	result, err := h.reconciler.Apply(r.Context(), ev)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not processed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
