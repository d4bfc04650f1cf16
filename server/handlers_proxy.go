package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cafu47/streamwall/livestreams"
	"github.com/cafu47/streamwall/telemetry"
)

// HandleLiveStreams answers the live-streams proxy query: main/family,
// main/host, or a plain list of channels.
func (h *Handlers) HandleLiveStreams(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "proxy"))
	if !h.live.Configured() {
		telemetry.RecordProxyRequest("unknown", "not_configured")
		writeError(w, http.StatusInternalServerError, "API credentials are not configured.")
		return
	}
	q, err := livestreams.ParseQuery(r.URL.Query())
	if err != nil {
		telemetry.RecordProxyRequest("unknown", "bad_request")
		writeError(w, http.StatusBadRequest, "No channel provided.")
		return
	}
	mode := string(q.Mode)
	res, err := h.live.Lookup(r.Context(), q)
	switch {
	case err == nil:
	case errors.Is(err, livestreams.ErrNoChannel):
		telemetry.RecordProxyRequest(mode, "bad_request")
		writeError(w, http.StatusBadRequest, "No channel provided.")
		return
	case r.Context().Err() != nil:
		telemetry.RecordProxyRequest(mode, "cancelled")
		return
	default:
		log.Error("live streams lookup failed", slog.String("mode", mode), slog.String("channel", q.Channel), slog.Any("err", err))
		telemetry.RecordProxyRequest(mode, "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.RecordProxyRequest(mode, "ok")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}
