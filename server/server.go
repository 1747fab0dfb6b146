// Package server exposes the ingestion pipeline over HTTP.
//
// Routes:
//
//	POST /ingest, /events   ingest one envelope
//	POST /hooks?kind=       build an envelope from raw hook input, then ingest
//	GET  /query             read a partition, optionally ranked by q
//	GET  /health            per-partition counts
//	GET  /metrics           Prometheus text (or ?format=json)
//
// When an API key is configured every route except /health, /metrics and
// CORS preflight requires it in X-API-Key.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/hook"
	"github.com/pithecene-io/zotel/ingest"
	"github.com/pithecene-io/zotel/log"
	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/storage"
	"github.com/pithecene-io/zotel/types"
)

// APIKeyHeader carries the shared key.
const APIKeyHeader = "X-API-Key"

// Defaults.
const (
	DefaultMaxBodyBytes   = 10 << 20
	DefaultRequestTimeout = 30 * time.Second
)

// Config for the HTTP handler.
type Config struct {
	Pipeline *ingest.Pipeline
	Backend  storage.Backend
	// Builder builds envelopes for POST /hooks. Defaults to a strict builder.
	Builder *envelope.Builder
	Mapper  hook.Mapper
	// Recorder backs GET /metrics. Required.
	Recorder *metrics.Recorder
	// Sink receives request counters. Defaults to Recorder.
	Sink metrics.Sink
	// Notifier, when set, is told about every successfully ingested envelope.
	Notifier adapter.Adapter
	Logger   *log.Logger

	// APIKey enables authentication when non-empty.
	APIKey         string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid JSON"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	cfg Config
}

// New returns an HTTP handler exposing the bridge API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Pipeline == nil || cfg.Backend == nil {
		return nil, errors.New("server requires a pipeline and a backend")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("server requires a metrics recorder")
	}
	if cfg.Sink == nil {
		cfg.Sink = cfg.Recorder
	}
	if cfg.Builder == nil {
		cfg.Builder = envelope.NewBuilder(envelope.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &server{cfg: cfg}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.countRequests)
	router.Use(corsHandler())
	router.Use(s.authenticate)
	router.Use(s.limitBody)
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	hcfg := huma.DefaultConfig("zotel bridge", types.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	s.registerIngest(api)
	s.registerHooks(api)
	s.registerQuery(api)
	s.registerHealth(api)
	s.registerMetrics(api)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// writeError writes an apiError outside huma (middleware paths).
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(newAPIError(status, "", message, nil))
}

func (s *server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			s.cfg.Sink.Increment(metrics.TotalRequests)
		}
		next.ServeHTTP(w, r)
	})
}

// corsHandler allows any origin to call the bridge with the API key header.
func corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", APIKeyHeader},
		MaxAge:         300,
	})
}

// publicPaths never require the API key.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/openapi": true,
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || publicPaths[strings.TrimSuffix(r.URL.Path, ".json")] {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
			s.cfg.Sink.Increment(metrics.ErrorCount)
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody rejects declared oversize bodies up front and caps the rest.
func (s *server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.cfg.MaxBodyBytes {
			s.cfg.Sink.Increment(metrics.ErrorCount)
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// ingestError maps pipeline failures onto HTTP statuses.
func ingestError(err error) huma.StatusError {
	var sv *ingest.SchemaVersionError
	if errors.As(err, &sv) {
		return newAPIError(http.StatusBadRequest, "unsupported_schema_version", err.Error(),
			map[string]any{"schema_version": sv.Version})
	}
	var ve *envelope.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(),
			map[string]any{"field": ve.Field})
	}
	var de *ingest.DedupError
	if errors.As(err, &de) {
		return newAPIError(http.StatusServiceUnavailable, "", err.Error(), nil)
	}
	var be *ingest.BackendError
	if errors.As(err, &be) && errors.Is(err, storage.ErrExists) {
		return newAPIError(http.StatusConflict, "event_exists", err.Error(),
			map[string]any{"partition": string(be.Partition)})
	}
	return newAPIError(http.StatusInternalServerError, "", "internal error", map[string]any{"error": err.Error()})
}
