package cmd

import (
	"context"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/render"
	"github.com/pithecene-io/zotel/metrics"
)

// StatsCommand returns the stats command.
// Stats reports the counters of a running bridge.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show bridge request, ingest and latency counters",
		Flags:  append(ReadOnlyFlags(), bridgeFlags()...),
		Action: statsAction,
	}
}

// StatsResponse is the derived view of a metrics snapshot.
type StatsResponse struct {
	TotalRequests    int64   `json:"total_requests"`
	IngestCount      int64   `json:"ingest_count"`
	DuplicateCount   int64   `json:"duplicate_count"`
	QueryCount       int64   `json:"query_count"`
	ErrorCount       int64   `json:"error_count"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
	StartedAt        string  `json:"started_at"`
	Uptime           string  `json:"uptime"`
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	var snap metrics.Snapshot
	q := url.Values{"format": []string{"json"}}
	if err := newBridgeClient(c).getJSON(ctx, "/metrics", q, &snap); err != nil {
		return err
	}
	return r.Render(statsFromSnapshot(snap, time.Now()))
}

func statsFromSnapshot(s metrics.Snapshot, now time.Time) StatsResponse {
	resp := StatsResponse{
		TotalRequests:    s.TotalRequests,
		IngestCount:      s.IngestCount,
		DuplicateCount:   s.DuplicateCount,
		QueryCount:       s.QueryCount,
		ErrorCount:       s.ErrorCount,
		AverageLatencyMS: s.AverageLatency() * 1000,
	}
	if !s.StartedAt.IsZero() {
		resp.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
		resp.Uptime = now.Sub(s.StartedAt).Truncate(time.Second).String()
	}
	return resp
}
