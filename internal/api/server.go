package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/catalogsearch/internal/engine"
	"github.com/knowledge-engine/catalogsearch/internal/metrics"
	"github.com/knowledge-engine/catalogsearch/internal/search"
)

type Server struct {
	Engine *engine.Engine
	Logger *logrus.Entry
	Router *http.ServeMux

	httpServer *http.Server
}

func NewServer(eng *engine.Engine, logger *logrus.Entry) *Server {
	s := &Server{
		Engine: eng,
		Logger: logger,
		Router: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Handle("/api/v1/search", metrics.Middleware("/api/v1/search", http.HandlerFunc(s.handleSearch)))
	s.Router.Handle("/api/v1/status", metrics.Middleware("/api/v1/status", http.HandlerFunc(s.handleStatus)))
	s.Router.Handle("/api/v1/reload", metrics.Middleware("/api/v1/reload", http.HandlerFunc(s.handleReload)))
	s.Router.Handle("/metrics", promhttp.Handler())
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	cfg := s.Engine.Config.Server
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.Logger.Infof("Starting API Server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Requests

type SearchRequest struct {
	Text *string `json:"text"`
	TopN *int    `json:"top_n,omitempty"`
}

// Responses
type ErrorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Results []SearchResultView `json:"results"`
}

type SearchResultView struct {
	Rank       int               `json:"rank"`
	Score      float64           `json:"score"`
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type StatusResponse struct {
	Loaded     bool      `json:"loaded"`
	RunID      string    `json:"run_id,omitempty"`
	Documents  int       `json:"documents"`
	Vocabulary int       `json:"vocabulary"`
	Params     string    `json:"params,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`
	Searches   int64     `json:"searches"`
	Failures   int64     `json:"failures"`
}

// Handlers

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Kind: "request", Error: "Invalid JSON"})
		return
	}
	if req.Text == nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Kind: "request", Error: "Field 'text' is required"})
		return
	}

	topN := s.Engine.Config.Server.DefaultTopN
	if req.TopN != nil {
		topN = *req.TopN
	}
	if maxTopN := s.Engine.Config.Server.MaxTopN; maxTopN > 0 && topN > maxTopN {
		topN = maxTopN
	}

	log := s.Logger.WithField("query", *req.Text)
	log.Debug("Searching for top products")

	results, err := s.Engine.Search(r.Context(), *req.Text, topN)
	if err != nil {
		log.WithError(err).Error("Search failed")
		s.errorResponse(w, err)
		return
	}

	response := SearchResponse{
		Query:   *req.Text,
		Results: make([]SearchResultView, len(results)),
	}
	for i, res := range results {
		response.Results[i] = SearchResultView{
			Rank:       res.Rank,
			Score:      res.Score,
			ID:         res.Record.ID,
			Text:       res.Record.Text,
			Attributes: res.Record.Attributes,
		}
	}

	jsonResponse(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.Engine.Stats()
	resp := StatusResponse{
		Searches: stats.Searches,
		Failures: stats.Failures,
	}
	if snap := s.Engine.Snapshot(); snap != nil {
		resp.Loaded = true
		resp.RunID = snap.RunID
		resp.Documents = snap.Catalog.Len()
		resp.Vocabulary = snap.Model.Dim()
		resp.Params = snap.Model.Params.String()
		resp.LoadedAt = snap.LoadedAt
	}

	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.Engine.Reload(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}

	snap := s.Engine.Snapshot()
	jsonResponse(w, http.StatusOK, map[string]string{"status": "reloaded", "run_id": snap.RunID})
}

// errorResponse maps an error kind onto an HTTP status.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	kind := search.KindOf(err)

	code := http.StatusInternalServerError
	switch {
	case kind == search.KindRanking:
		code = http.StatusBadRequest
	case kind == search.KindLoad:
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}

	jsonResponse(w, code, ErrorResponse{Kind: string(kind), Error: err.Error()})
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
