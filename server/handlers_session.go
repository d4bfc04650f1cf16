package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cafu47/streamwall/telemetry"
	"github.com/cafu47/streamwall/wall"
)

const sseKeepAlive = 15 * time.Second

type sessionResponse struct {
	ID   string    `json:"id"`
	View wall.View `json:"view"`
}

// session resolves the {id} route parameter, writing a 404 when unknown.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// HandleCreateSession starts a wall for the calling page.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess := h.sessions.Create(req)
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, View: sess.Manager.View()})
}

// HandleGetSession returns the latest view.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, View: sess.Manager.View()})
}

// HandleDeleteSession stops the wall; the page calls it on unload.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionEvents streams views as Server-Sent Events until the client
// goes away or the wall stops.
func (h *Handlers) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "sse"), slog.String("session", sess.ID))
	// The server's write timeout would cut the stream.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("could not clear write deadline", slog.Any("err", err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	views, unsubscribe := sess.Manager.Subscribe()
	defer unsubscribe()
	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		case v, open := <-views:
			if !open {
				_, _ = w.Write([]byte("event: closed\ndata: {}\n\n"))
				flusher.Flush()
				return
			}
			if err := writeEvent(w, v); err != nil {
				log.Warn("failed to write SSE event", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case <-ping.C:
			// An open stream keeps the session alive.
			if _, ok := h.sessions.Get(sess.ID); !ok {
				return
			}
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleSwitch applies a manual switch from the switcher input.
func (h *Handlers) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Input string `json:"input"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := sess.Manager.Submit(r.Context(), body.Input)
	var ve *wall.ValidationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, wall.ErrClosed):
		writeError(w, http.StatusGone, "session closed")
	default:
		if r.Context().Err() == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// HandleNavigate reports browser back/forward to a fragment.
func (h *Handlers) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Fragment string `json:"fragment"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess.Manager.Navigate(body.Fragment)
	w.WriteHeader(http.StatusNoContent)
}

// HandlePlaying forwards the native player's "playing" event.
func (h *Handlers) HandlePlaying(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Manager.ReportPlaying()
	w.WriteHeader(http.StatusNoContent)
}

// HandlePlayback records player state observed by the page, for handles
// that cannot query the platform themselves.
func (h *Handlers) HandlePlayback(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Paused   bool     `json:"paused"`
		Ended    bool     `json:"ended"`
		Position *float64 `json:"position"`
		Duration *float64 `json:"duration"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pb := wall.Playback{Paused: body.Paused, Ended: body.Ended}
	if body.Position != nil && body.Duration != nil {
		pb.Position, pb.Duration, pb.HasProgress = *body.Position, *body.Duration, true
	}
	if !sess.ReportPlayback(pb) {
		writeError(w, http.StatusConflict, "active player reports its own state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOpenSwitcher is the "change channel" button.
func (h *Handlers) HandleOpenSwitcher(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Manager.OpenSwitcher()
	w.WriteHeader(http.StatusNoContent)
}
