package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/render"
	"github.com/pithecene-io/zotel/server"
	"github.com/pithecene-io/zotel/storage"
)

// queryFilterFlags map one-to-one onto /query parameters.
var queryFilterFlags = []string{"run_id", "event_type", "level", "worker_id", "task_id", "session_id"}

// QueryCommand returns the query command.
// It reads one partition from a running bridge.
func QueryCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), bridgeFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Partition: events, embeddings, artifacts, or agent_state",
			Value: string(storage.PartitionEvents),
		},
		&cli.StringFlag{
			Name:  "q",
			Usage: "Rank embeddings by relevance to this text",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum records (the bridge clamps to 1000)",
			Value: storage.DefaultLimit,
		},
		&cli.IntFlag{
			Name:  "offset",
			Usage: "Records to skip",
		},
	)
	for _, name := range queryFilterFlags {
		flags = append(flags, &cli.StringFlag{
			Name:  flagName(name),
			Usage: fmt.Sprintf("Filter on %s", name),
		})
	}

	return &cli.Command{
		Name:   "query",
		Usage:  "Query stored events from a running bridge",
		Flags:  flags,
		Action: queryAction,
	}
}

// QueryRow is the table view of one query record.
type QueryRow struct {
	ID        string `json:"id"`
	Ts        string `json:"ts"`
	EventType string `json:"event_type"`
	Level     string `json:"level"`
	RunID     string `json:"run_id"`
	WorkerID  string `json:"worker_id"`
	Distance  string `json:"distance"`
}

func queryAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	var resp server.QueryResponse
	if err := newBridgeClient(c).getJSON(ctx, "/query", queryParams(c), &resp); err != nil {
		return err
	}

	if r.Format() == render.FormatTable {
		return r.Render(queryRows(resp))
	}
	return r.Render(resp)
}

func queryParams(c *cli.Context) url.Values {
	q := url.Values{}
	q.Set("collection", c.String("collection"))
	q.Set("limit", strconv.Itoa(c.Int("limit")))
	if off := c.Int("offset"); off > 0 {
		q.Set("offset", strconv.Itoa(off))
	}
	if text := c.String("q"); text != "" {
		q.Set("q", text)
	}
	for _, name := range queryFilterFlags {
		if v := c.String(flagName(name)); v != "" {
			q.Set(name, v)
		}
	}
	return q
}

func queryRows(resp server.QueryResponse) []QueryRow {
	rows := make([]QueryRow, 0, len(resp.Events))
	for _, rec := range resp.Events {
		row := QueryRow{
			ID:        rec.ID,
			Ts:        metaString(rec.Metadata, "ts"),
			EventType: metaString(rec.Metadata, "event_type"),
			Level:     metaString(rec.Metadata, "level"),
			RunID:     metaString(rec.Metadata, "run_id"),
			WorkerID:  metaString(rec.Metadata, "worker_id"),
		}
		if rec.Distance != nil {
			row.Distance = strconv.FormatFloat(*rec.Distance, 'f', 4, 64)
		}
		rows = append(rows, row)
	}
	return rows
}

func metaString(m storage.Metadata, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return storage.FormatValue(v)
}

// flagName turns a query parameter into its kebab-case flag.
func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}
