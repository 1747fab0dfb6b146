package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/storage"
)

type queryInput struct {
	Collection string `query:"collection" default:"events" doc:"events, embeddings, artifacts or agent_state"`
	RunID      string `query:"run_id"`
	EventType  string `query:"event_type"`
	Level      string `query:"level"`
	WorkerID   string `query:"worker_id"`
	TaskID     string `query:"task_id"`
	SessionID  string `query:"session_id"`
	Limit      int    `query:"limit" default:"100" doc:"Clamped to 1000"`
	Offset     int    `query:"offset"`
	Q          string `query:"q" doc:"Ranks embeddings by relevance"`
}

func (in *queryInput) filter() storage.Filter {
	f := storage.Filter{}
	for k, v := range map[string]string{
		"run_id":     in.RunID,
		"event_type": in.EventType,
		"level":      in.Level,
		"worker_id":  in.WorkerID,
		"task_id":    in.TaskID,
		"session_id": in.SessionID,
	} {
		if v != "" {
			f[k] = v
		}
	}
	return f
}

// QueryRecord is one record in a query response. Document is the stored
// JSON document, or a string for plain-text documents.
type QueryRecord struct {
	ID       string           `json:"id"`
	Document json.RawMessage  `json:"document"`
	Metadata storage.Metadata `json:"metadata"`
	Distance *float64         `json:"distance"`
}

// QueryResponse is the body of GET /query.
type QueryResponse struct {
	Collection string         `json:"collection"`
	Count      int            `json:"count"`
	Events     []QueryRecord  `json:"events"`
	Filters    storage.Filter `json:"filters"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

func (s *server) registerQuery(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "query",
		Method:      http.MethodGet,
		Path:        "/query",
		Summary:     "Query a partition",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *queryInput) (*struct {
		Body QueryResponse `json:"body"`
	}, error) {
		s.cfg.Sink.Increment(metrics.QueryCount)

		p, err := storage.ParsePartition(input.Collection)
		if err != nil {
			return nil, s.badRequest("invalid collection: " + input.Collection)
		}
		limit := storage.ClampLimit(input.Limit)
		offset := max(input.Offset, 0)
		filter := input.filter()

		var recs []storage.Record
		semantic := input.Q != "" && p == storage.PartitionEmbeddings
		if semantic {
			recs, err = s.cfg.Backend.Query(ctx, p, input.Q, filter, limit)
		} else {
			recs, err = s.cfg.Backend.Get(ctx, p, filter, limit, offset)
		}
		if err != nil {
			s.cfg.Sink.Increment(metrics.ErrorCount)
			s.cfg.Logger.Error("query failed", map[string]any{"collection": string(p), "error": err.Error()})
			return nil, newAPIError(http.StatusInternalServerError, "query_failed", "query failed", map[string]any{"error": err.Error()})
		}

		out := QueryResponse{
			Collection: string(p),
			Count:      len(recs),
			Events:     make([]QueryRecord, 0, len(recs)),
			Filters:    filter,
			Limit:      limit,
			Offset:     offset,
		}
		for _, rec := range recs {
			qr := QueryRecord{ID: rec.ID, Document: documentJSON(rec.Document), Metadata: rec.Metadata}
			if semantic {
				d := rec.Distance
				qr.Distance = &d
			}
			out.Events = append(out.Events, qr)
		}
		return &struct {
			Body QueryResponse `json:"body"`
		}{Body: out}, nil
	})
}

func documentJSON(doc string) json.RawMessage {
	if json.Valid([]byte(doc)) {
		return json.RawMessage(doc)
	}
	b, _ := json.Marshal(doc)
	return b
}
