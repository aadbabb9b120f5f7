package scoring

import (
	"reflect"
	"testing"

	"github.com/raysh454/kansa/internal/model"
)

func TestScore_BenignTelemetryIsZero(t *testing.T) {
	got := Score(model.Telemetry{FinalURL: "https://example.com/"})
	if got.Score != 0 {
		t.Errorf("score = %d, want 0", got.Score)
	}
	if got.Severity != model.SeverityLow {
		t.Errorf("severity = %q, want low", got.Severity)
	}
	if len(got.Reasons) != 0 {
		t.Errorf("reasons = %v, want empty", got.Reasons)
	}
	if Corrupted(got.Score) {
		t.Error("benign result flagged corrupted")
	}
}

func TestScore_BenignStaticPage(t *testing.T) {
	// A couple of plain scripts is normal and must not move the score.
	got := Score(model.Telemetry{
		DynamicScripts: []string{"https://cdn.example.com/app.js", "https://cdn.example.com/vendor.js"},
		FinalURL:       "https://example.com/",
	})
	if got.Score != 0 || got.Severity != model.SeverityLow {
		t.Fatalf("got score=%d severity=%q, want 0/low", got.Score, got.Severity)
	}
}

func TestScore_AnalysisFailedIsMaximalRisk(t *testing.T) {
	tel := model.Telemetry{
		AnalysisFailed: true,
		FailureDetail:  "navigation timeout",
		// Other fields must be irrelevant.
		Redirected:       true,
		DOMMutationCount: 999,
	}
	got := Score(tel)
	if got.Score != 100 {
		t.Errorf("score = %d, want 100", got.Score)
	}
	if got.Severity != model.SeverityCritical {
		t.Errorf("severity = %q, want critical", got.Severity)
	}
	if len(got.Reasons) != 1 {
		t.Errorf("reasons = %v, want single failure reason", got.Reasons)
	}
	if !Corrupted(got.Score) {
		t.Error("failed analysis not flagged corrupted")
	}
}

func TestScore_AdditiveSignalsAndHighBand(t *testing.T) {
	// redirect (+25) + 25 mutations (+30) + 16 scripts (+20) = 75 -> high.
	scripts := make([]string, 16)
	for i := range scripts {
		scripts[i] = "https://example.com/s.js"
	}
	got := Score(model.Telemetry{
		Redirected:       true,
		DOMMutationCount: 25,
		DynamicScripts:   scripts,
	})
	if got.Score != 75 {
		t.Errorf("score = %d, want 75", got.Score)
	}
	if got.Severity != model.SeverityHigh {
		t.Errorf("severity = %q, want high", got.Severity)
	}
	if !Corrupted(got.Score) {
		t.Error("score 75 not flagged corrupted")
	}
	if len(got.Reasons) != 3 {
		t.Errorf("reasons = %v, want 3 entries", got.Reasons)
	}
}

func TestScore_ConsoleErrorsCapped(t *testing.T) {
	msgs := make([]model.ConsoleMessage, 10)
	for i := range msgs {
		msgs[i] = model.ConsoleMessage{Type: "error", Text: "boom"}
	}
	got := Score(model.Telemetry{ConsoleMessages: msgs})
	if got.Score != 25 {
		t.Errorf("score = %d, want capped 25", got.Score)
	}
}

func TestScore_ConsoleWarningsIgnored(t *testing.T) {
	got := Score(model.Telemetry{ConsoleMessages: []model.ConsoleMessage{
		{Type: "warning", Text: "deprecated"},
		{Type: "log", Text: "hello"},
	}})
	if got.Score != 0 {
		t.Errorf("score = %d, want 0 for non-error console messages", got.Score)
	}
}

func TestScore_SuspiciousScriptsPerScript(t *testing.T) {
	got := Score(model.Telemetry{DynamicScripts: []string{
		`eval(atob("ZG9Tb21ldGhpbmc="))`,
		`document.write("<img src=x>")`,
		`element.innerHTML = payload; element.outerHTML = payload;`,
		`console.log("harmless")`,
	}})
	// Three matching scripts, 10 points each. The third matches two
	// fragments but counts once.
	if got.Score != 30 {
		t.Errorf("score = %d, want 30", got.Score)
	}
}

func TestScore_NetworkSignals(t *testing.T) {
	reqs := make([]model.RequestRecord, 51)
	got := Score(model.Telemetry{
		Requests:      reqs,
		NetworkErrors: []model.NetworkError{{Error: "net::ERR_FAILED"}, {Error: "net::ERR_ABORTED"}},
	})
	// 51 requests (+25), any failures flat (+20).
	if got.Score != 45 {
		t.Errorf("score = %d, want 45", got.Score)
	}
	if got.Severity != model.SeverityMedium {
		t.Errorf("severity = %q, want medium", got.Severity)
	}
}

func TestScore_Idempotent(t *testing.T) {
	tel := model.Telemetry{
		Redirected:       true,
		DOMMutationCount: 30,
		DynamicIframes:   []string{"https://evil.example/f"},
		ConsoleMessages:  []model.ConsoleMessage{{Type: "error", Text: "x"}},
	}
	a := Score(tel)
	b := Score(tel)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Score not idempotent: %+v vs %+v", a, b)
	}
}

func TestScore_UnclampedAboveHundred(t *testing.T) {
	scripts := make([]string, 20)
	for i := range scripts {
		scripts[i] = "eval(x)"
	}
	got := Score(model.Telemetry{
		Redirected:       true,
		DOMMutationCount: 100,
		DynamicScripts:   scripts,
	})
	// 25 + 30 + 20 (count) + 200 (suspicious) = 275, preserved raw.
	if got.Score != 275 {
		t.Errorf("score = %d, want unclamped 275", got.Score)
	}
	if got.Severity != model.SeverityCritical {
		t.Errorf("severity = %q, want critical", got.Severity)
	}
}

func TestSeverityFor_Bands(t *testing.T) {
	cases := []struct {
		score int
		want  model.Severity
	}{
		{0, model.SeverityLow},
		{19, model.SeverityLow},
		{20, model.SeverityLow},
		{39, model.SeverityLow},
		{40, model.SeverityMedium},
		{59, model.SeverityMedium},
		{60, model.SeverityHigh},
		{79, model.SeverityHigh},
		{80, model.SeverityCritical},
		{150, model.SeverityCritical},
	}
	for _, c := range cases {
		if got := SeverityFor(c.score); got != c.want {
			t.Errorf("SeverityFor(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}
