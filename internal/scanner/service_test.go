package scanner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/admission"
	"github.com/raysh454/kansa/internal/baseline"
	"github.com/raysh454/kansa/internal/browserpool"
	"github.com/raysh454/kansa/internal/cache"
	"github.com/raysh454/kansa/internal/interfaces"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/queue"
	"github.com/raysh454/kansa/internal/scanner"
	"github.com/raysh454/kansa/internal/store"
)

// Test URLs use public literal addresses so the admission gate never
// touches DNS.
const (
	benignURL = "https://93.184.216.34/"
	otherURL  = "https://93.184.216.35/"
)

type stubHandle struct{}

func (stubHandle) Context() context.Context       { return context.Background() }
func (stubHandle) Ping(ctx context.Context) error { return nil }
func (stubHandle) Close()                         {}

type stubRunner struct {
	mu    sync.Mutex
	calls int
	tel   func(url string) model.Telemetry
}

func (r *stubRunner) Analyze(ctx context.Context, url string, timeout time.Duration, h browserpool.Handle) model.Telemetry {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.tel(url)
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func benignTelemetry(url string) model.Telemetry {
	return model.Telemetry{
		FinalURL:    url,
		PageHTML:    "<html><body>ok</body></html>",
		ContentHash: "hash-" + url,
	}
}

func newService(t *testing.T, runner *stubRunner) (*scanner.Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	pool := browserpool.New(browserpool.DefaultConfig(), func(ctx context.Context) (browserpool.Handle, error) {
		return stubHandle{}, nil
	}, nil)
	t.Cleanup(pool.Close)

	svc, err := scanner.New(queue.DefaultConfig(), scanner.Deps{
		Gate:      admission.NewGate(admission.DefaultConfig(), nil),
		Pool:      pool,
		Runner:    runner,
		Store:     mem,
		Cache:     cache.New(cache.DefaultConfig()),
		Baselines: baseline.NewStore(),
		Logger:    interfaces.NewTestLogger(false),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, mem
}

func awaitTerminal(t *testing.T, svc *scanner.Service, jobID string) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := svc.JobStatus(jobID); ok {
			if j.State == queue.StateCompleted || j.State == queue.StateFailed {
				return j
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestScanBenignPage(t *testing.T) {
	runner := &stubRunner{tel: benignTelemetry}
	svc, _ := newService(t, runner)

	job, err := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.State != queue.StateQueued {
		t.Errorf("initial state = %q, want queued", job.State)
	}

	done := awaitTerminal(t, svc, job.ID)
	if done.State != queue.StateCompleted {
		t.Fatalf("state = %q (reason %q)", done.State, done.FailureReason)
	}
	r := done.Result
	if r == nil {
		t.Fatal("completed job has no result")
	}
	if r.Score != 0 || r.Severity != model.SeverityLow || r.Corrupted {
		t.Errorf("result = score %d severity %q corrupted %v", r.Score, r.Severity, r.Corrupted)
	}
	if r.ID == "" {
		t.Error("result not persisted")
	}
	if r.Telemetry.PageHTML != "" {
		t.Error("settled markup leaked into the result")
	}

	stored, err := svc.Result(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("result lookup: %v", err)
	}
	if stored.URL != benignURL {
		t.Errorf("stored url = %q", stored.URL)
	}
}

func TestScanServedFromCache(t *testing.T) {
	runner := &stubRunner{tel: benignTelemetry}
	svc, mem := newService(t, runner)

	first, err := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	awaitTerminal(t, svc, first.ID)

	second, err := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := awaitTerminal(t, svc, second.ID)

	if done.State != queue.StateCompleted {
		t.Fatalf("state = %q", done.State)
	}
	if runner.callCount() != 1 {
		t.Errorf("analyses = %d, want 1 (second served from cache)", runner.callCount())
	}
	if mem.Len() != 1 {
		t.Errorf("stored results = %d, want 1", mem.Len())
	}
}

func TestScanSkipCacheForcesFreshAnalysis(t *testing.T) {
	runner := &stubRunner{tel: benignTelemetry}
	svc, _ := newService(t, runner)

	first, _ := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL})
	awaitTerminal(t, svc, first.ID)

	second, _ := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL, SkipCache: true})
	awaitTerminal(t, svc, second.ID)

	if runner.callCount() != 2 {
		t.Errorf("analyses = %d, want 2", runner.callCount())
	}
}

func TestSubmitScanRejectsBlockedURL(t *testing.T) {
	runner := &stubRunner{tel: benignTelemetry}
	svc, _ := newService(t, runner)

	_, err := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: "https://127.0.0.1/admin"})
	if !errors.Is(err, admission.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if m := svc.QueueMetrics(); m.Waiting != 0 && m.Active != 0 {
		t.Errorf("rejected submission reached the queue: %+v", m)
	}
}

func TestFailedAnalysisCompletesWithMaximalRisk(t *testing.T) {
	runner := &stubRunner{tel: func(url string) model.Telemetry {
		return model.Telemetry{
			FinalURL:       url,
			AnalysisFailed: true,
			FailureDetail:  "net::ERR_NAME_NOT_RESOLVED",
		}
	}}
	svc, _ := newService(t, runner)

	job, err := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: benignURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := awaitTerminal(t, svc, job.ID)

	// An unobservable page is a result, not a job failure.
	if done.State != queue.StateCompleted {
		t.Fatalf("state = %q", done.State)
	}
	r := done.Result
	if r.Score != 100 || r.Severity != model.SeverityCritical || !r.Corrupted {
		t.Errorf("result = score %d severity %q corrupted %v", r.Score, r.Severity, r.Corrupted)
	}
}

func TestBaselineDiffRaisesScore(t *testing.T) {
	var flip bool
	var mu sync.Mutex
	runner := &stubRunner{tel: func(url string) model.Telemetry {
		mu.Lock()
		defer mu.Unlock()
		if !flip {
			flip = true
			return model.Telemetry{
				FinalURL:       url,
				PageHTML:       "<html>clean</html>",
				ContentHash:    "h1",
				DynamicScripts: []string{"https://cdn.example/app.js"},
			}
		}
		return model.Telemetry{
			FinalURL:       url,
			PageHTML:       "<html>tampered</html>",
			ContentHash:    "h2",
			DynamicScripts: []string{"https://cdn.example/app.js", `eval(atob("x"))`},
		}
	}}
	svc, _ := newService(t, runner)

	first, _ := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: otherURL})
	awaitTerminal(t, svc, first.ID)

	second, _ := svc.SubmitScan(context.Background(), queue.ScanRequest{URL: otherURL, SkipCache: true})
	done := awaitTerminal(t, svc, second.ID)

	r := done.Result
	if r.Diff == nil {
		t.Fatal("second scan carries no diff report")
	}
	if !r.Diff.Changed || len(r.Diff.SuspiciousScripts) != 1 {
		t.Errorf("diff = %+v", r.Diff)
	}
	// eval( in the injected script also trips the per-scan heuristic, so
	// the total is suspicious script (10) + baseline increase (30).
	if r.Score != 40 || r.Severity != model.SeverityMedium {
		t.Errorf("score = %d severity %q", r.Score, r.Severity)
	}
}
