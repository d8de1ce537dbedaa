package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/proposal"
	"github.com/hyperjump/tabi/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := s.decode(w, r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("Search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.deps.Searcher.Search(r.Context(), &query)
	if errors.Is(err, models.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleUpsertPackages(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := s.decode(w, r, &raw); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	records, err := packageRecords(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pkgs := make([]*models.Package, 0, len(records))
	for _, rec := range records {
		p, err := models.NormalizePackage(rec)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		pkgs = append(pkgs, p)
	}

	res, err := s.deps.Catalog.UpsertPackages(r.Context(), pkgs)
	if err != nil {
		s.logger.Error("Package upsert failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := make([]string, len(pkgs))
	for i, p := range pkgs {
		ids[i] = p.ID
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ids": ids, "result": res})
}

// packageRecords accepts one record, an array of records, or {"packages": [...]}.
func packageRecords(raw json.RawMessage) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New("expected a package, an array of packages or {\"packages\": [...]}")
	}
	if nested, ok := obj["packages"]; ok {
		data, _ := json.Marshal(nested)
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, errors.New("packages must be an array of objects")
		}
		return list, nil
	}
	return []map[string]any{obj}, nil
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pkg, err := s.deps.Storage.GetPackage(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "package not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("Delete package request", zap.String("id", id))
	removed, err := s.deps.Catalog.DeletePackage(r.Context(), id)
	if err != nil {
		s.logger.Error("Deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "package not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type proposalRequest struct {
	Inquiry      string         `json:"inquiry"`
	Params       map[string]any `json:"params,omitempty"`
	ForceRefresh bool           `json:"force_refresh,omitempty"`
}

type proposalResponse struct {
	*models.ProposalResponse
	Cached bool `json:"cached"`
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, cached, err := s.deps.Proposer.Process(r.Context(), req.Inquiry, req.Params, req.ForceRefresh)
	if errors.Is(err, proposal.ErrEmptyInquiry) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Proposal failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, proposalResponse{ProposalResponse: resp, Cached: cached})
}

func (s *Server) handleDestinations(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.deps.Destinations != nil {
		names = append(names, s.deps.Destinations.Destinations()...)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"destinations": names, "count": len(names)})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Index.Rebuild(r.Context()); err != nil {
		s.logger.Error("Index rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Index.Stats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "all"
	}
	cleared := map[string]int{}
	switch name {
	case "all", "responses", "destinations", "embeddings":
	default:
		s.respondError(w, http.StatusBadRequest, "name must be one of all, responses, destinations, embeddings")
		return
	}
	if (name == "all" || name == "responses") && s.deps.Responses != nil {
		cleared["responses"] = s.deps.Responses.Store().Clear()
	}
	if (name == "all" || name == "destinations") && s.deps.Destinations != nil {
		cleared["destinations"] = s.deps.Destinations.Store().Clear()
	}
	if (name == "all" || name == "embeddings") && s.deps.Embeddings != nil {
		cleared["embeddings"] = s.deps.Embeddings.Stats().Size
		s.deps.Embeddings.Clear()
	}
	s.logger.Info("Caches cleared", zap.Any("cleared", cleared))
	s.respondJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.deps.Storage.CountPackages(ctx)
	if err != nil {
		s.logger.Error("Status: count packages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"packages": count,
		"index":    s.deps.Index.Stats(),
	}

	caches := map[string]cache.Stats{}
	if s.deps.Responses != nil {
		caches["responses"] = s.deps.Responses.Store().Stats()
	}
	if s.deps.Destinations != nil {
		caches["destinations"] = s.deps.Destinations.Store().Stats()
	}
	resp["caches"] = caches
	if s.deps.Evaluator != nil {
		resp["evaluation"] = s.deps.Evaluator.Report()
	}
	if s.deps.Watch != nil {
		resp["watch_directories"] = s.deps.Watch.Directories()
	}

	if s.config != nil {
		st := s.config.Storage
		usage, err := storage.DiskUsage(map[string]string{
			"database":     st.DatabasePath,
			"index":        st.IndexPath,
			"responses":    st.ResponseCacheDir,
			"destinations": st.DestinationCacheDir,
			"evaluation":   st.EvaluationDir,
		})
		if err == nil {
			resp["disk_usage"] = usage
		}
		resp["config"] = map[string]any{
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"generation_model":     s.config.Generation.Model,
			"index_metric":         s.config.Index.Metric,
			"category_boost":       s.config.Search.CategoryBoostOrDefault(),
			"database_path":        st.DatabasePath,
			"index_path":           st.IndexPath,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluationReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil {
		s.respondError(w, http.StatusNotFound, "evaluation is not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Evaluator.Report())
}

func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil {
		s.respondError(w, http.StatusNotFound, "evaluation is not enabled")
		return
	}
	if _, err := s.deps.Evaluator.SaveSession(); err != nil {
		s.logger.Warn("Failed to save evaluation session", zap.Error(err))
	}
	b, err := s.deps.Evaluator.SetBaseline()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
