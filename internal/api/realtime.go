package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
)

// RealtimeResponse is the JSON response for GET /api/realtime.
type RealtimeResponse struct {
	Feeds     []*cache.Snapshot `json:"feeds"`
	Count     int               `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
}

// listRealtime handles GET /api/realtime. The optional feed parameter is a
// comma-separated list of feed ids; unknown ids are reported as 404.
func (h *handler) listRealtime(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("feed")

	var snaps []*cache.Snapshot
	if filter == "" {
		snaps = h.deps.Cache.GetAll()
	} else {
		var unknown []string
		for _, id := range strings.Split(filter, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if !h.deps.Cache.Known(id) {
				unknown = append(unknown, id)
				continue
			}
			if snap, ok := h.deps.Cache.Get(id); ok {
				snaps = append(snaps, snap)
			}
		}
		if len(unknown) > 0 {
			h.writeError(w, http.StatusNotFound, "Unknown feed", map[string]any{"feeds": unknown})
			return
		}
	}
	if snaps == nil {
		snaps = []*cache.Snapshot{}
	}

	h.writeJSON(w, http.StatusOK, RealtimeResponse{
		Feeds:     snaps,
		Count:     len(snaps),
		Timestamp: h.deps.Now().UTC(),
	})
}

// getRealtime handles GET /api/realtime/{feedId}. A known feed without a
// successful cycle yet is 503, an unknown one 404.
func (h *handler) getRealtime(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedId")

	if !h.deps.Cache.Known(feedID) {
		h.writeError(w, http.StatusNotFound, "Feed not found", map[string]any{"feedId": feedID})
		return
	}
	snap, ok := h.deps.Cache.Get(feedID)
	if !ok {
		details := map[string]any{"feedId": feedID}
		if st, ok := h.deps.Cache.Status(feedID); ok && st.LastError != "" {
			details["lastError"] = st.LastError
		}
		h.writeError(w, http.StatusServiceUnavailable, "No data yet", details)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}
