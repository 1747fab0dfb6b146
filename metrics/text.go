package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// TextContentType is the media type of WriteText output.
var TextContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

var (
	descRequests = prometheus.NewDesc("zotel_requests_total", "Requests handled by the bridge.", nil, nil)
	descIngest   = prometheus.NewDesc("zotel_ingest_total", "Events ingested into the primary log.", nil, nil)
	descQuery    = prometheus.NewDesc("zotel_query_total", "Queries served.", nil, nil)
	descErrors   = prometheus.NewDesc("zotel_errors_total", "Requests that failed.", nil, nil)
	descDups     = prometheus.NewDesc("zotel_duplicates_total", "Events rejected as duplicates.", nil, nil)
	descLatSum   = prometheus.NewDesc("zotel_latency_seconds_sum", "Total request latency in seconds.", nil, nil)
	descLatCount = prometheus.NewDesc("zotel_latency_seconds_count", "Requests with an observed latency.", nil, nil)
	descLatAvg   = prometheus.NewDesc("zotel_latency_seconds_avg", "Mean request latency in seconds.", nil, nil)
)

// snapshotCollector exports one Snapshot as constant metrics.
type snapshotCollector struct {
	snap Snapshot
}

func (c snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descRequests, descIngest, descQuery, descErrors, descDups,
		descLatSum, descLatCount, descLatAvg,
	} {
		ch <- d
	}
}

func (c snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snap
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	counter(descRequests, float64(s.TotalRequests))
	counter(descIngest, float64(s.IngestCount))
	counter(descQuery, float64(s.QueryCount))
	counter(descErrors, float64(s.ErrorCount))
	counter(descDups, float64(s.DuplicateCount))
	counter(descLatSum, s.LatencySum)
	counter(descLatCount, float64(s.LatencyCount))
	ch <- prometheus.MustNewConstMetric(descLatAvg, prometheus.GaugeValue, s.AverageLatency())
}

// WriteText writes s in the Prometheus text exposition format.
func WriteText(w io.Writer, s Snapshot) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(snapshotCollector{snap: s}); err != nil {
		return err
	}
	fams, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range fams {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
