package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/fleetsim/internal/journal"
)

// handleListJournal returns paginated journal entries, newest first.
//
// Query parameters:
//   - kind: filter by entry kind (artifact_posted, ota_applied, dfu_skipped, ...)
//   - node_uuid, serial, channel: filter by subject
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:     journal.Kind(q.Get("kind")),
		NodeUUID: q.Get("node_uuid"),
		Serial:   q.Get("serial"),
		Channel:  q.Get("channel"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
