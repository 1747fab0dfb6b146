package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pithecene-io/zotel/hook"
	"github.com/pithecene-io/zotel/ingest"
	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/types"
)

// IngestResponse is the body of a successful or duplicate ingestion.
type IngestResponse struct {
	Status             string        `json:"status" example:"success"`
	EventID            string        `json:"event_id"`
	CollectionsUpdated []string      `json:"collections_updated,omitempty"`
	LatencyMS          float64       `json:"latency_ms,omitempty"`
	FailedWrites       []FailedWrite `json:"failed_writes,omitempty"`
}

// FailedWrite reports a best-effort partition write that did not land.
type FailedWrite struct {
	Partition string `json:"partition"`
	ID        string `json:"id"`
	Error     string `json:"error"`
}

type rawInput struct {
	RawBody []byte
}

type ingestOutput struct {
	Status int
	Body   IngestResponse
}

func (s *server) registerIngest(api huma.API) {
	for _, path := range []string{"/ingest", "/events"} {
		opID := "ingest"
		if path == "/events" {
			opID = "ingest-events"
		}
		huma.Register(api, huma.Operation{
			OperationID:  opID,
			Method:       http.MethodPost,
			Path:         path,
			Summary:      "Ingest one event envelope",
			MaxBodyBytes: s.cfg.MaxBodyBytes,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusUnauthorized,
				http.StatusConflict,
				http.StatusRequestEntityTooLarge,
				http.StatusInternalServerError,
				http.StatusServiceUnavailable,
			},
		}, func(ctx context.Context, input *rawInput) (*ingestOutput, error) {
			env, err := s.decodeEnvelope(input.RawBody)
			if err != nil {
				return nil, err
			}
			return s.ingest(ctx, env)
		})
	}
}

type hooksInput struct {
	Kind    string `query:"kind" default:"report" doc:"Hook kind: report, session-start, worker-spawn, artifact, error, mcp, heartbeat"`
	RawBody []byte
}

func (s *server) registerHooks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:  "ingest-hook",
		Method:       http.MethodPost,
		Path:         "/hooks",
		Summary:      "Build an envelope from raw hook input and ingest it",
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusRequestEntityTooLarge,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *hooksInput) (*ingestOutput, error) {
		kind, err := hook.ParseKind(input.Kind)
		if err != nil {
			return nil, s.badRequest(err.Error())
		}
		var in hook.Input
		if err := json.Unmarshal(input.RawBody, &in); err != nil {
			return nil, s.badRequest("invalid JSON: " + err.Error())
		}
		p, ok, err := s.cfg.Mapper.Params(kind, in)
		if err != nil {
			return nil, s.badRequest(err.Error())
		}
		if !ok {
			return &ingestOutput{Status: http.StatusOK, Body: IngestResponse{Status: "skipped"}}, nil
		}
		env, err := s.cfg.Builder.Build(p)
		if err != nil {
			s.cfg.Sink.Increment(metrics.ErrorCount)
			return nil, ingestError(err)
		}
		return s.ingest(ctx, env)
	})
}

func (s *server) decodeEnvelope(body []byte) (*types.EventEnvelope, error) {
	if len(body) == 0 {
		return nil, s.badRequest("body required")
	}
	var env types.EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, s.badRequest("invalid JSON: " + err.Error())
	}
	return &env, nil
}

func (s *server) badRequest(msg string) error {
	s.cfg.Sink.Increment(metrics.ErrorCount)
	return newAPIError(http.StatusBadRequest, "", msg, nil)
}

// ingest runs env through the pipeline. The pipeline does its own error
// accounting.
func (s *server) ingest(ctx context.Context, env *types.EventEnvelope) (*ingestOutput, error) {
	report, err := s.cfg.Pipeline.Ingest(ctx, env)
	if err != nil {
		s.cfg.Logger.Warn("ingest failed", map[string]any{
			"event_id": env.EventID,
			"error":    err.Error(),
		})
		return nil, ingestError(err)
	}

	if report.Status == ingest.StatusDuplicate {
		return &ingestOutput{
			Status: http.StatusAccepted,
			Body:   IngestResponse{Status: string(report.Status), EventID: report.EventID},
		}, nil
	}

	resp := IngestResponse{
		Status:             string(report.Status),
		EventID:            report.EventID,
		CollectionsUpdated: report.Partitions,
		LatencyMS:          math.Round(float64(report.Latency.Microseconds())/10) / 100,
	}
	for _, f := range report.Failed() {
		resp.FailedWrites = append(resp.FailedWrites, FailedWrite{
			Partition: string(f.Write.Partition),
			ID:        f.Write.ID,
			Error:     f.Err.Error(),
		})
	}

	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.Publish(ctx, env); err != nil {
			s.cfg.Logger.Warn("notify failed", map[string]any{"event_id": env.EventID, "error": err.Error()})
		}
	}
	return &ingestOutput{Status: http.StatusCreated, Body: resp}, nil
}
