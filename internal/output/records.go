// internal/output/records.go
// Stable JSON shapes for results and reports

package output

import (
	"time"

	"github.com/aspnmy/mirapipe/internal/models"
)

type resultRecord struct {
	Type      string    `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

func newResultRecord(r *models.ProbeResult) resultRecord {
	return resultRecord{
		Type:      "result",
		Host:      r.Target.Host,
		Port:      r.Target.Port,
		Outcome:   r.Outcome.Kind.String(),
		Detail:    r.Outcome.Detail,
		LatencyMS: milliseconds(r.Latency),
		Timestamp: r.Timestamp,
	}
}

type reportRecord struct {
	Type         string              `json:"type"`
	RunID        string              `json:"run_id"`
	Host         string              `json:"host"`
	StartedAt    time.Time           `json:"started_at"`
	DurationMS   float64             `json:"duration_ms"`
	Counts       models.Counts       `json:"counts"`
	Open         []int               `json:"open"`
	TLS          []models.PortDetail `json:"tls"`
	TLSSuspected []models.PortDetail `json:"tls_suspected"`
	Errors       []models.PortDetail `json:"errors"`
	Closed       []int               `json:"closed,omitempty"`
}

// newReportRecord converts a report. Closed ports are listed only when
// withClosed is set since a wide range is mostly closed.
func newReportRecord(r *models.ScanReport, withClosed bool) reportRecord {
	rec := reportRecord{
		Type:         "report",
		RunID:        r.RunID,
		Host:         r.Host,
		StartedAt:    r.StartedAt,
		DurationMS:   milliseconds(r.Duration),
		Counts:       r.Counts(),
		Open:         nonNil(r.Open),
		TLS:          nonNilDetails(r.TLS),
		TLSSuspected: nonNilDetails(r.TLSSuspected),
		Errors:       nonNilDetails(r.Errors),
	}
	if withClosed {
		rec.Closed = r.Closed
	}
	return rec
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func nonNilDetails(s []models.PortDetail) []models.PortDetail {
	if s == nil {
		return []models.PortDetail{}
	}
	return s
}
