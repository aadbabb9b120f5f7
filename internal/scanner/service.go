// Package scanner is the engine facade. It owns the scan pipeline
// (admission, queueing, browser checkout, analysis, scoring, baseline
// diffing, persistence, caching) and exposes the handful of operations
// the HTTP layer needs.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/kansa/internal/admission"
	"github.com/raysh454/kansa/internal/analyzer"
	"github.com/raysh454/kansa/internal/baseline"
	"github.com/raysh454/kansa/internal/browserpool"
	"github.com/raysh454/kansa/internal/cache"
	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/metrics"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/queue"
	"github.com/raysh454/kansa/internal/scoring"
	"github.com/raysh454/kansa/internal/store"
)

// Deps are the collaborators a Service is assembled from. Gate, Pool,
// Runner and Store are required; the rest degrade gracefully when nil.
type Deps struct {
	Gate      *admission.Gate
	Pool      *browserpool.Pool
	Runner    analyzer.Runner
	Store     store.Store
	Bus       *events.Bus
	Cache     *cache.Cache
	Baselines *baseline.Store
	Metrics   *metrics.Metrics
	Logger    logging.Logger
}

// Service runs the scan pipeline behind the job queue.
type Service struct {
	deps   Deps
	queue  queue.Backend
	logger logging.Logger
}

// New assembles a Service and its queue backend.
func New(qcfg queue.Config, deps Deps) (*Service, error) {
	if deps.Gate == nil || deps.Pool == nil || deps.Runner == nil || deps.Store == nil {
		return nil, errors.New("scanner: gate, pool, runner and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("scanner")
	}

	svc := &Service{deps: deps, logger: logger}
	backend, err := queue.NewBackend(qcfg, svc.execute, deps.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("scanner: building queue backend: %w", err)
	}
	svc.queue = backend

	if deps.Metrics != nil {
		deps.Metrics.RegisterQueueDepth(func() (int, int) {
			m := backend.Metrics()
			return m.Waiting, m.Active
		})
		deps.Metrics.RegisterPoolSize(deps.Pool.Live)
	}
	return svc, nil
}

// SubmitScan validates the URL and enqueues it. Admission rejections are
// returned synchronously and never create a job.
func (s *Service) SubmitScan(ctx context.Context, req queue.ScanRequest) (*queue.Job, error) {
	if err := s.deps.Gate.Validate(ctx, req.URL); err != nil {
		return nil, err
	}
	return s.queue.Enqueue(ctx, req)
}

// JobStatus returns a snapshot of the job with the given ID.
func (s *Service) JobStatus(id string) (*queue.Job, bool) {
	return s.queue.Job(id)
}

// QueueMetrics returns the current queue depth.
func (s *Service) QueueMetrics() queue.Metrics {
	return s.queue.Metrics()
}

// Result reads a persisted scan result by its storage identifier.
func (s *Service) Result(ctx context.Context, id string) (*model.ScanResult, error) {
	return s.deps.Store.GetResult(ctx, id)
}

// Close stops the queue. In-flight analyses run to completion.
func (s *Service) Close() {
	s.queue.Close()
}

// execute is the queue executor: one admitted request in, one result out.
// Analysis-level failures surface inside the result; only infrastructure
// faults (no browser, storage down) return an error and fail the job.
func (s *Service) execute(ctx context.Context, req queue.ScanRequest) (*model.ScanResult, error) {
	if !req.SkipCache && s.deps.Cache != nil {
		if cached, ok := s.deps.Cache.Get(req.URL); ok {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheHits.Inc()
			}
			s.logger.Debug("serving scan from cache", logging.Field{Key: "url", Value: req.URL})
			return cached, nil
		}
	}

	start := time.Now()

	h, err := s.deps.Pool.Acquire(ctx)
	if err != nil {
		s.markFailed()
		return nil, fmt.Errorf("scanner: acquiring browser: %w", err)
	}
	defer s.deps.Pool.Release(h)

	tel := s.deps.Runner.Analyze(ctx, req.URL, req.Timeout(), h)
	assessment := scoring.Score(tel)

	result := &model.ScanResult{
		URL:         req.URL,
		ContentHash: tel.ContentHash,
		Score:       assessment.Score,
		Severity:    assessment.Severity,
		Reasons:     assessment.Reasons,
		Corrupted:   scoring.Corrupted(assessment.Score),
		Telemetry:   tel,
		DurationMs:  time.Since(start).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}

	if !tel.AnalysisFailed && s.deps.Baselines != nil {
		if prev, ok := s.deps.Baselines.Get(req.URL); ok {
			result.Diff = baseline.Compare(prev, tel)
			if result.Diff.RiskIncrease > 0 {
				result.Score += result.Diff.RiskIncrease
				result.Severity = scoring.SeverityFor(result.Score)
				result.Corrupted = scoring.Corrupted(result.Score)
				result.Reasons = append(result.Reasons,
					fmt.Sprintf("%d suspicious scripts appeared since baseline capture", len(result.Diff.SuspiciousScripts)))
			}
		} else {
			s.deps.Baselines.Put(req.URL, baseline.FromTelemetry(req.URL, tel))
		}
	}

	// The settled markup fed the hash, features and baseline; results do
	// not need to carry it around.
	result.Telemetry.PageHTML = ""

	id, err := s.deps.Store.SaveResult(ctx, result)
	if err != nil {
		s.markFailed()
		return nil, fmt.Errorf("scanner: persisting result: %w", err)
	}
	result.ID = id

	if s.deps.Cache != nil && !tel.AnalysisFailed {
		s.deps.Cache.Put(req.URL, result)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ScansCompleted.Inc()
		s.deps.Metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func (s *Service) markFailed() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ScansFailed.Inc()
	}
}
