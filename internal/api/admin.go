// Package api exposes the admin HTTP API and the MCP server. Both operate on
// the same store and knowledge service as the chat bot.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/groupmind/internal/bot"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TeachRequest is the body of POST /groups/{id}/knowledge.
type TeachRequest struct {
	Question string `json:"question" validate:"required,max=500"`
	Answer   string `json:"answer" validate:"required,max=4000"`
	Source   string `json:"source" validate:"omitempty,oneof=manual admin default"`
}

type AdminDeps struct {
	Store     *storage.Store
	Knowledge *knowledge.Service
	Token     string
	// BreakerState reports the completion circuit breaker; optional.
	BreakerState func() string
}

// NewAdminHandler returns the admin API router. /health is public; every
// other route requires the bearer token.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/groups", handleListGroups(deps))
		r.Route("/groups/{id}", func(r chi.Router) {
			r.Get("/", handleGetGroup(deps))
			r.Get("/knowledge", handleListKnowledge(deps))
			r.Post("/knowledge", handleTeach(deps))
			r.Delete("/knowledge", handleForget(deps))
			r.Get("/export", handleExport(deps))
			r.Get("/interactions", handleListInteractions(deps))
		})
	})

	return r
}

func handleHealth(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
			return
		}
		resp := map[string]string{"status": "ok"}
		if deps.BreakerState != nil {
			resp["completion"] = deps.BreakerState()
		}
		writeJSON(w, resp)
	}
}

// groupID parses the {id} URL parameter and checks that the group exists.
func groupID(w http.ResponseWriter, r *http.Request, deps AdminDeps) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid group id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	if _, err := deps.Store.GetGroup(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "group not found")
		} else {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get group: %v", err)
		}
		return 0, false
	}
	return id, true
}

func handleListGroups(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := deps.Store.ListGroups()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list groups: %v", err)
			return
		}
		if groups == nil {
			groups = []storage.Group{}
		}
		writeJSON(w, groups)
	}
}

func handleGetGroup(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		g, err := deps.Store.GetGroup(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get group: %v", err)
			return
		}
		stats, err := deps.Knowledge.Stats(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get stats: %v", err)
			return
		}
		writeJSON(w, struct {
			storage.Group
			Knowledge knowledge.Stats `json:"knowledge"`
		}{g, stats})
	}
}

func handleListKnowledge(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		entries, err := deps.Knowledge.List(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleTeach(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TeachRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
			return
		}
		if req.Source == "" {
			req.Source = storage.SourceManual
		}

		entry, err := deps.Knowledge.Teach(r.Context(), id, req.Question, req.Answer, req.Source)
		if errors.Is(err, knowledge.ErrEmpty) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to teach: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(entry)
	}
}

func handleForget(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		keyword := r.URL.Query().Get("keyword")
		n, err := deps.Knowledge.Forget(r.Context(), id, keyword)
		if errors.Is(err, knowledge.ErrEmpty) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "keyword is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to forget: %v", err)
			return
		}
		writeJSON(w, map[string]int{"deleted": n})
	}
}

func handleExport(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		export, err := bot.BuildExport(r.Context(), deps.Store, deps.Knowledge, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build export: %v", err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\"groupmind-"+strconv.FormatInt(id, 10)+".json\"")
		writeJSON(w, export)
	}
}

func handleListInteractions(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := groupID(w, r, deps)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Store.ListInteractions(id, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, interactions)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
