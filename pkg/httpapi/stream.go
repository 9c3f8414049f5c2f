package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loopdeck/loopdeck/pkg/artifacts"
	"github.com/loopdeck/loopdeck/pkg/jobs"
	"github.com/loopdeck/loopdeck/pkg/log"
)

// handleStream bridges one key's event channel to one HTTP client as
// Server-Sent Events. Each connected client gets an independent
// subscription; a dropped client releases only its own.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDomainError(w, fmt.Errorf("streaming not supported"), nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before writing the snapshot so no event can fall into the
	// gap between the two.
	sub, cancel, live := s.gen.Subscribe(key)

	// Immediate snapshot so the client renders something before the first
	// real event (or instead of one, if nothing is running).
	status := s.gen.Status(key)
	if writeSSE(w, "connected", status) != nil {
		if live {
			cancel()
		}
		return
	}
	flusher.Flush()
	if !live {
		// No active channel: report durable truth once and end the
		// stream; the client polls status from here.
		name := "idle"
		if s.store.Classify(key) != artifacts.StageNotStarted {
			name = "complete"
		}
		_ = writeSSE(w, name, status)
		flusher.Flush()
		return
	}
	defer cancel()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, open := <-sub:
			if !open {
				// Channel closed: the job reached a terminal state.
				final := s.gen.Status(key)
				name := "complete"
				if final.Status == jobs.GenError {
					name = "error"
				}
				_ = writeSSE(w, name, final)
				flusher.Flush()
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				log.Debug("stream client dropped", "key", key)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if err := writeSSE(w, "heartbeat", map[string]interface{}{
				"time": time.Now().UTC(),
			}); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w io.Writer, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
