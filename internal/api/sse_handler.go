package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"pos-ledger/internal/models"

	"github.com/go-chi/chi/v5"
)

// StreamStore pushes every committed event for one store over SSE. Kitchen
// dashboards hold this open all day; the connection ends when the client
// goes away.
func (h *Handler) StreamStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	events := h.Emitter.SubscribeToStore(r.Context(), storeID)
	h.stream(w, r, events)
}

// StreamCheck pushes one check's events over SSE, used by table-side client
// screens to mirror kitchen progress live.
func (h *Handler) StreamCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkId")
	events := h.Emitter.SubscribeToCheck(r.Context(), checkID)
	h.stream(w, r, events)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, events chan models.EventMessage) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Initial comment so proxies open the stream immediately.
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.EventID, event.Type, data)
			flusher.Flush()
		}
	}
}
