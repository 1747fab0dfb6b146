package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/storage"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string         `json:"status" example:"healthy"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Collections map[string]int `json:"collections,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (s *server) registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Status int
		Body   HealthResponse
	}, error) {
		counts := make(map[string]int, len(storage.Partitions()))
		for _, p := range storage.Partitions() {
			n, err := s.cfg.Backend.Count(ctx, p)
			if err != nil {
				return &struct {
					Status int
					Body   HealthResponse
				}{Status: http.StatusServiceUnavailable, Body: HealthResponse{Status: "unhealthy", Error: err.Error()}}, nil
			}
			counts[string(p)] = n
		}
		return &struct {
			Status int
			Body   HealthResponse
		}{Status: http.StatusOK, Body: HealthResponse{
			Status:      "healthy",
			Timestamp:   s.cfg.Now().UTC().Format(time.RFC3339),
			Collections: counts,
		}}, nil
	})
}

type metricsInput struct {
	Format string `query:"format" enum:"text,json" default:"text"`
}

func (s *server) registerMetrics(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Bridge counters",
	}, func(_ context.Context, input *metricsInput) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		snap := s.cfg.Recorder.Snapshot()
		out := &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{}
		if input.Format == "json" {
			b, err := json.Marshal(snap)
			if err != nil {
				return nil, err
			}
			out.ContentType = "application/json"
			out.Body = b
			return out, nil
		}
		var buf bytes.Buffer
		if err := metrics.WriteText(&buf, snap); err != nil {
			return nil, err
		}
		out.ContentType = metrics.TextContentType
		out.Body = buf.Bytes()
		return out, nil
	})
}
