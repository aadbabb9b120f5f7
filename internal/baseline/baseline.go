// Package baseline records the first observed state of each scanned URL
// (content hash, settled markup, script set) and reports how later scans
// deviate from it. A sudden crop of injected scripts between two scans is
// a stronger compromise signal than any single-scan heuristic.
package baseline

import (
	"regexp"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/kansa/internal/model"
)

// suspiciousScriptRe flags newly-added scripts worth calling out in a
// diff report.
var suspiciousScriptRe = regexp.MustCompile(`eval|Function|setTimeout|setInterval|document\.write|innerHTML`)

// suspiciousRiskIncrease is the flat score bump a diff report suggests
// when suspicious scripts appeared since the baseline.
const suspiciousRiskIncrease = 30

// Baseline is the recorded reference state for one URL.
type Baseline struct {
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	Content     string    `json:"-"`
	Scripts     []string  `json:"scripts"`
	CapturedAt  time.Time `json:"captured_at"`
}

// FromTelemetry builds a baseline from a successful scan's telemetry.
func FromTelemetry(url string, t model.Telemetry) Baseline {
	scripts := make([]string, len(t.DynamicScripts))
	copy(scripts, t.DynamicScripts)
	return Baseline{
		URL:         url,
		ContentHash: t.ContentHash,
		Content:     t.PageHTML,
		Scripts:     scripts,
		CapturedAt:  time.Now().UTC(),
	}
}

// Store keeps baselines in memory, one per URL.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Baseline
}

// NewStore creates an empty baseline store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Baseline)}
}

// Get returns the baseline for url, if one has been recorded.
func (s *Store) Get(url string) (Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[url]
	return b, ok
}

// Put records (or leaves untouched) the baseline for url. The first scan
// wins: baselines are reference points, not rolling state.
func (s *Store) Put(url string, b Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[url]; exists {
		return
	}
	s.entries[url] = b
}

// Compare diffs a fresh scan's telemetry against the recorded baseline.
func Compare(prev Baseline, t model.Telemetry) *model.DiffReport {
	report := &model.DiffReport{
		Changed: prev.ContentHash != t.ContentHash,
	}

	if report.Changed {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(prev.Content, t.PageHTML, false)
		for _, d := range diffs {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				report.AddedLines++
			case diffmatchpatch.DiffDelete:
				report.RemovedLines++
			}
		}
	}

	report.AddedScripts = subtract(t.DynamicScripts, prev.Scripts)
	report.RemovedScripts = subtract(prev.Scripts, t.DynamicScripts)

	for _, s := range report.AddedScripts {
		if suspiciousScriptRe.MatchString(s) {
			report.SuspiciousScripts = append(report.SuspiciousScripts, s)
		}
	}
	if len(report.SuspiciousScripts) > 0 {
		report.RiskIncrease = suspiciousRiskIncrease
	}
	return report
}

// subtract returns the members of a that are not in b, preserving order.
func subtract(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
