// internal/models/report.go
// Aggregated, immutable scan report

package models

import (
	"sort"
	"time"
)

// PortDetail pairs a port with the detail text of its outcome
type PortDetail struct {
	Port   int    `json:"port"`
	Detail string `json:"detail"`
}

// Counts holds the per-category tallies of a report
type Counts struct {
	Total        int `json:"total"`
	Open         int `json:"open"`
	Closed       int `json:"closed"`
	TLS          int `json:"tls"`
	TLSSuspected int `json:"tls_suspected"`
	Errors       int `json:"errors"`
}

// ScanReport is the outcome set of one scan run plus derived listings.
// It is built once by BuildReport and must not be modified afterwards.
type ScanReport struct {
	RunID     string          `json:"run_id"`
	Host      string          `json:"host"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Outcomes  map[int]Outcome `json:"outcomes"`

	Open         []int        `json:"open"`
	Closed       []int        `json:"closed"`
	TLS          []PortDetail `json:"tls"`
	TLSSuspected []PortDetail `json:"tls_suspected"`
	Errors       []PortDetail `json:"errors"`
}

// BuildReport tallies a complete outcome set. All listings are sorted by port.
func BuildReport(runID, host string, startedAt time.Time, outcomes map[int]Outcome) *ScanReport {
	r := &ScanReport{
		RunID:     runID,
		Host:      host,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Outcomes:  make(map[int]Outcome, len(outcomes)),
	}

	for _, port := range sortedPorts(outcomes) {
		o := outcomes[port]
		r.Outcomes[port] = o

		switch o.Kind {
		case OutcomeOpen:
			r.Open = append(r.Open, port)
		case OutcomeClosed:
			r.Closed = append(r.Closed, port)
		case OutcomeTLSNegotiated:
			r.TLS = append(r.TLS, PortDetail{Port: port, Detail: o.Detail})
		case OutcomeTLSSuspected:
			r.TLSSuspected = append(r.TLSSuspected, PortDetail{Port: port, Detail: o.Detail})
		case OutcomeConnectError, OutcomeTLSHandshakeError:
			r.Errors = append(r.Errors, PortDetail{Port: port, Detail: o.Detail})
		}
	}

	return r
}

// Counts returns the tallies for every category
func (r *ScanReport) Counts() Counts {
	return Counts{
		Total:        len(r.Outcomes),
		Open:         len(r.Open),
		Closed:       len(r.Closed),
		TLS:          len(r.TLS),
		TLSSuspected: len(r.TLSSuspected),
		Errors:       len(r.Errors),
	}
}

// Ports returns every scanned port in ascending order
func (r *ScanReport) Ports() []int {
	return sortedPorts(r.Outcomes)
}

// Details returns one result per non-closed port, ascending by port
func (r *ScanReport) Details() []ProbeResult {
	var out []ProbeResult
	for _, port := range sortedPorts(r.Outcomes) {
		o := r.Outcomes[port]
		if o.Kind == OutcomeClosed {
			continue
		}
		out = append(out, ProbeResult{
			Target:  Target{Host: r.Host, Port: port},
			Outcome: o,
		})
	}
	return out
}

func sortedPorts(m map[int]Outcome) []int {
	ports := make([]int, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
