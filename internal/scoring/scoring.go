// Package scoring maps captured telemetry to a risk score, a severity
// band and a list of human-readable reasons. Score is a pure function:
// identical telemetry always yields identical output.
package scoring

import (
	"fmt"
	"strings"

	"github.com/raysh454/kansa/internal/model"
)

// Signal weights. Each independent signal contributes additively.
const (
	pointsRedirect          = 25
	pointsExcessiveMutation = 30
	pointsNetworkErrors     = 20
	pointsPerConsoleError   = 5
	consoleErrorCap         = 25
	pointsManyScripts       = 20
	pointsIframes           = 15
	pointsPerSuspiciousScpt = 10
	pointsExcessiveRequests = 25

	mutationThreshold = 20
	scriptThreshold   = 15
	requestThreshold  = 50
)

// dangerousFragments are substrings whose presence in a script body or
// source marks it suspicious.
var dangerousFragments = []string{"eval(", "document.write", "innerHTML", "outerHTML"}

// Assessment is the scoring output for one telemetry record.
type Assessment struct {
	// Score is the raw additive value. It is intentionally not clamped
	// to 100; callers wanting a bounded display value clamp themselves.
	Score    int
	Severity model.Severity
	Reasons  []string
}

// Score evaluates one telemetry record. A failed analysis is treated as
// maximal risk, not as unknown.
func Score(t model.Telemetry) Assessment {
	if t.AnalysisFailed {
		return Assessment{
			Score:    100,
			Severity: model.SeverityCritical,
			Reasons:  []string{"Dynamic analysis failed - unable to scan website"},
		}
	}

	score := 0
	reasons := []string{}

	if t.Redirected {
		reasons = append(reasons, "Unexpected redirects detected during page load")
		score += pointsRedirect
	}

	if t.DOMMutationCount > mutationThreshold {
		reasons = append(reasons, fmt.Sprintf("Excessive DOM mutations detected (%d changes)", t.DOMMutationCount))
		score += pointsExcessiveMutation
	}

	if n := len(t.NetworkErrors); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d network request failures detected", n))
		score += pointsNetworkErrors
	}

	if n := t.ConsoleErrorCount(); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d JavaScript errors detected in browser console", n))
		pts := n * pointsPerConsoleError
		if pts > consoleErrorCap {
			pts = consoleErrorCap
		}
		score += pts
	}

	if n := len(t.DynamicScripts); n > scriptThreshold {
		reasons = append(reasons, fmt.Sprintf("High number of dynamically loaded scripts (%d)", n))
		score += pointsManyScripts
	}

	if n := len(t.DynamicIframes); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d iframes loaded dynamically", n))
		score += pointsIframes
	}

	if n := countSuspiciousScripts(t.DynamicScripts); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d suspicious scripts detected in dynamic content", n))
		score += n * pointsPerSuspiciousScpt
	}

	if n := len(t.Requests); n > requestThreshold {
		reasons = append(reasons, fmt.Sprintf("Excessive network requests detected (%d)", n))
		score += pointsExcessiveRequests
	}

	return Assessment{
		Score:    score,
		Severity: SeverityFor(score),
		Reasons:  reasons,
	}
}

// SeverityFor maps a score onto its band. There is no "none" band: any
// score below 20 is reported as low.
func SeverityFor(score int) model.Severity {
	switch {
	case score >= 80:
		return model.SeverityCritical
	case score >= 60:
		return model.SeverityHigh
	case score >= 40:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Corrupted reports whether a score marks the page as corrupted.
func Corrupted(score int) bool {
	return score > 50
}

func countSuspiciousScripts(scripts []string) int {
	n := 0
	for _, s := range scripts {
		for _, frag := range dangerousFragments {
			if strings.Contains(s, frag) {
				n++
				break
			}
		}
	}
	return n
}
