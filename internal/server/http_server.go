package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/internal/ingest"
	"github.com/smukkama/water-ingest/internal/protocol"
	"github.com/smukkama/water-ingest/pkg/config"
)

// IngestPath is the route devices post readings to
const IngestPath = "/api/ingest-water-data"

// maxBodyBytes bounds a single reading request
const maxBodyBytes = 64 << 10

// Ingester stores one submission. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, sub ingest.Submission) (*ingest.Reading, error)
}

// HTTPServer accepts readings from devices over HTTP
type HTTPServer struct {
	config   *config.HTTPServerConfig
	ingester Ingester
	registry *prometheus.Registry
	router   *mux.Router
	server   *http.Server
	log      *logrus.Entry
	wg       sync.WaitGroup
}

// NewHTTPServer creates a new HTTP server. registry may be nil, in which
// case /metrics is not served.
func NewHTTPServer(cfg *config.HTTPServerConfig, ingester Ingester, registry *prometheus.Registry) *HTTPServer {
	s := &HTTPServer{
		config:   cfg,
		ingester: ingester,
		registry: registry,
		log:      logrus.WithField("component", "http-server"),
	}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)

	r.HandleFunc(IngestPath, s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc(IngestPath, s.handlePreflight).Methods(http.MethodOptions)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start begins listening in the background
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")
	return nil
}

// Stop shuts the server down, waiting up to timeout for in-flight requests
func (s *HTTPServer) Stop(timeout time.Duration) error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if status, msg := s.authorize(r); status != http.StatusOK {
		s.writeJSON(w, status, &protocol.ErrorResponse{Error: msg})
		return
	}

	req, err := protocol.DecodeIngestRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, &protocol.ErrorResponse{Error: "Invalid request: malformed JSON body"})
		return
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	reading, err := s.ingester.Ingest(ctx, req.Submission())
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			s.writeJSON(w, http.StatusBadRequest, &protocol.ErrorResponse{Error: "Invalid payload: " + verr.Error()})
			return
		}
		requestLogger(r).WithError(err).Error("Failed to ingest reading")
		s.writeJSON(w, http.StatusInternalServerError, &protocol.ErrorResponse{Error: "Internal server error"})
		return
	}

	s.writeJSON(w, http.StatusOK, protocol.NewIngestResponse(reading))
}

// authorize checks the bearer token. It returns http.StatusOK when the
// request may proceed.
func (s *HTTPServer) authorize(r *http.Request) (int, string) {
	if s.config.APIKey == "" {
		return http.StatusInternalServerError, "Server configuration error"
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return http.StatusUnauthorized, "Missing or invalid authorization header"
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) != 1 {
		return http.StatusForbidden, "Invalid API key"
	}
	return http.StatusOK, ""
}

func (s *HTTPServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := protocol.EncodeMessage(body)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
