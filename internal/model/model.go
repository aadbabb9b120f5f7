// Package model holds the shared data types that flow between the scan
// pipeline stages: captured telemetry, scoring output and the persisted
// scan result.
package model

import "time"

// Severity is the coarse risk band derived from a scan score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RequestRecord is one outgoing network request observed during a scan.
type RequestRecord struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	ResourceType string `json:"resource_type,omitempty"`
}

// ResponseRecord is one network response observed during a scan.
type ResponseRecord struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
}

// NetworkError is a request that failed to complete.
type NetworkError struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error"`
}

// ConsoleMessage is one browser console entry emitted by the page.
type ConsoleMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Telemetry is the raw observational record of a single scan attempt.
// It is produced once by the analyzer and never mutated afterwards.
type Telemetry struct {
	Requests         []RequestRecord  `json:"requests"`
	Responses        []ResponseRecord `json:"responses"`
	ConsoleMessages  []ConsoleMessage `json:"console_messages"`
	NetworkErrors    []NetworkError   `json:"network_errors"`
	DOMMutationCount int              `json:"dom_mutation_count"`
	DynamicScripts   []string         `json:"dynamic_scripts"`
	DynamicIframes   []string         `json:"dynamic_iframes"`
	Redirected       bool             `json:"redirected"`
	FinalURL         string           `json:"final_url"`
	ContentHash      string           `json:"content_hash,omitempty"`

	// PageHTML is the settled document markup. It feeds baseline diffing
	// and is deliberately excluded from serialized telemetry.
	PageHTML string `json:"-"`

	AnalysisFailed bool   `json:"analysis_failed"`
	FailureDetail  string `json:"failure_detail,omitempty"`
}

// ConsoleErrorCount returns the number of error-level console messages.
func (t Telemetry) ConsoleErrorCount() int {
	n := 0
	for _, m := range t.ConsoleMessages {
		if m.Type == "error" {
			n++
		}
	}
	return n
}

// DiffReport summarizes how a page changed since its recorded baseline.
type DiffReport struct {
	Changed           bool     `json:"changed"`
	AddedLines        int      `json:"added_lines"`
	RemovedLines      int      `json:"removed_lines"`
	AddedScripts      []string `json:"added_scripts,omitempty"`
	RemovedScripts    []string `json:"removed_scripts,omitempty"`
	SuspiciousScripts []string `json:"suspicious_scripts,omitempty"`
	RiskIncrease      int      `json:"risk_increase"`
}

// ScanResult is the scored outcome of one scan. The score is the raw
// additive value and is intentionally not clamped to 100; severity
// banding and the corrupted flag operate on the raw value.
type ScanResult struct {
	ID          string      `json:"id,omitempty"`
	URL         string      `json:"url"`
	ContentHash string      `json:"content_hash,omitempty"`
	Score       int         `json:"score"`
	Severity    Severity    `json:"severity"`
	Reasons     []string    `json:"reasons"`
	Corrupted   bool        `json:"corrupted"`
	Telemetry   Telemetry   `json:"telemetry"`
	Diff        *DiffReport `json:"diff,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	CreatedAt   time.Time   `json:"created_at"`
}
