package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/secretshub/policy-core/internal/versioning"
	"github.com/secretshub/policy-core/pkg/types"
)

// listVersionsHandler returns a policy's full version history, newest first
func (s *Server) listVersionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	history, err := s.manager.Versions().History(r.Context(), id, versioning.NewestFirst)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to fetch version history", nil)
		return
	}

	WriteJSON(w, http.StatusOK, VersionListResponse{
		PolicyID: id,
		Versions: history,
		Total:    len(history),
	})
}

// getVersionHandler returns a single stored version
func (s *Server) getVersionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "version must be a number", nil)
		return
	}

	record, err := s.manager.Versions().Get(r.Context(), id, version)
	if err != nil {
		s.writeVersionError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// compareVersionsHandler diffs two stored versions (?from=N&to=M)
func (s *Server) compareVersionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "from must be a number", nil)
		return
	}
	to, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "to must be a number", nil)
		return
	}

	diff, err := s.manager.Versions().Compare(r.Context(), id, from, to)
	if err != nil {
		s.writeVersionError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, diff)
}

// restoreVersionHandler appends a restore version and makes it live
func (s *Server) restoreVersionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "version must be a number", nil)
		return
	}

	var req RestoreRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	restored, err := s.manager.RestoreVersion(r.Context(), id, version, req.Reason, actor(r))
	if err != nil {
		s.writeVersionError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, restored)
}

// auditTrailHandler returns the filtered change history for a policy.
// Filters: ?from=RFC3339&to=RFC3339&change_type=updated&created_by=alice&limit=N
func (s *Server) auditTrailHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	filter, err := parseAuditFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	trail, err := s.manager.Versions().AuditTrail(r.Context(), id, filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to fetch audit trail", nil)
		return
	}

	WriteJSON(w, http.StatusOK, VersionListResponse{
		PolicyID: id,
		Versions: trail,
		Total:    len(trail),
	})
}

// versionStatsHandler returns aggregated change statistics for a policy
func (s *Server) versionStatsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stats, err := s.manager.Versions().Stats(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to compute version stats", nil)
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// parseAuditFilter builds an audit filter from query parameters
func parseAuditFilter(r *http.Request) (*types.AuditFilter, error) {
	q := r.URL.Query()
	filter := &types.AuditFilter{}
	seen := false

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("from must be an RFC3339 timestamp")
		}
		filter.From = t
		seen = true
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("to must be an RFC3339 timestamp")
		}
		filter.To = t
		seen = true
	}
	for _, ct := range q["change_type"] {
		filter.ChangeTypes = append(filter.ChangeTypes, types.ChangeType(ct))
		seen = true
	}
	if v := q.Get("created_by"); v != "" {
		filter.CreatedBy = v
		seen = true
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, errors.New("limit must be a non-negative number")
		}
		filter.Limit = limit
		seen = true
	}

	if !seen {
		return nil, nil
	}
	return filter, nil
}

// writeVersionError maps version store errors to HTTP status codes
func (s *Server) writeVersionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, versioning.ErrVersionNotFound), errors.Is(err, versioning.ErrNoVersions):
		WriteError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, versioning.ErrVersionOutOfRange):
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, versioning.ErrVersionConflict):
		WriteError(w, http.StatusConflict, err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "version operation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
