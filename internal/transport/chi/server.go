// Package chi serves the REST API.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	healthuc "github.com/kailas-cloud/splitsearch/internal/usecase/health"
	streamuc "github.com/kailas-cloud/splitsearch/internal/usecase/stream"
)

const (
	defaultMaxHits = 20
	maxBodyBytes   = 1 << 20

	// SplitErrorsTrailer carries the JSON list of failed splits at the end of a stream.
	SplitErrorsTrailer = "X-Split-Errors"
)

// Searcher runs root searches.
type Searcher interface {
	RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error)
}

// Streamer runs root streams.
type Streamer interface {
	SearchStream(ctx context.Context, req *search.SearchStreamRequest) (<-chan streamuc.StreamItem, error)
}

// TermLister runs root list-terms calls.
type TermLister interface {
	RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error)
}

// HealthChecker reports node health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Server implements the HTTP handlers.
type Server struct {
	search Searcher
	stream Streamer
	terms  TermLister
	health HealthChecker
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(s Searcher, st Streamer, t TermLister, h HealthChecker, logger *zap.Logger) *Server {
	return &Server{search: s, stream: st, terms: t, health: h, logger: logger}
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api/v1/{index}", func(r chi.Router) {
		r.Get("/search", s.Search)
		r.Post("/search", s.Search)
		r.Get("/search/stream", s.SearchStream)
		r.Post("/search/stream", s.SearchStream)
		r.Get("/terms", s.ListTerms)
		r.Post("/terms", s.ListTerms)
	})
}

// decode reads a request from the JSON body on POST and from the query string otherwise.
func decode[T any](w http.ResponseWriter, r *http.Request, fromQuery func(url.Values) (*T, error)) (*T, error) {
	if r.Method != http.MethodPost {
		return fromQuery(r.URL.Query())
	}
	req := new(T)
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("Bad request", zap.Error(err))
	writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request: "+err.Error())
}

// Search handles GET and POST /api/v1/{index}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := decode(w, r, searchRequestFromQuery)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req.IndexID = index

	resp, err := s.search.RootSearch(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchStream handles GET and POST /api/v1/{index}/search/stream. Rows are flushed as
// they arrive; failed splits are reported in the SplitErrorsTrailer trailer since the
// status line is already sent by then.
func (s *Server) SearchStream(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := decode(w, r, streamRequestFromQuery)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req.IndexID = index

	items, err := s.stream.SearchStream(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType(req.OutputFormat))
	w.Header().Set("Trailer", SplitErrorsTrailer)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	var (
		failed   []search.SplitSearchError
		writeErr error
	)
	for item := range items {
		if item.Err != nil {
			failed = append(failed, *item.Err)
			continue
		}
		if writeErr != nil {
			continue
		}
		if _, writeErr = w.Write(item.Data); writeErr == nil {
			writeErr = rc.Flush()
		}
	}
	if writeErr != nil {
		s.logger.Info("Stream client went away", zap.Error(writeErr))
		return
	}
	if len(failed) > 0 {
		slices.SortFunc(failed, func(a, b search.SplitSearchError) int { return strings.Compare(a.SplitID, b.SplitID) })
		data, _ := json.Marshal(lo.Map(failed, func(e search.SplitSearchError, _ int) string { return e.String() }))
		w.Header().Set(SplitErrorsTrailer, string(data))
	}
}

func contentType(f search.OutputFormat) string {
	if f == search.OutputRowBinary {
		return "application/octet-stream"
	}
	return "text/csv; charset=utf-8"
}

// ListTerms handles GET and POST /api/v1/{index}/terms.
func (s *Server) ListTerms(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := decode(w, r, termsRequestFromQuery)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req.IndexID = index

	resp, err := s.terms.RootListTerms(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("domain error", zap.String("path", r.URL.Path), zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
