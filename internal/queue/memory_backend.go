package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

// persistFunc lets a durable backend hook every job state transition.
// Called outside the scheduler lock with a private snapshot.
type persistFunc func(job *Job)

// memoryScheduler is the in-process queue. All state lives behind mu;
// dispatch runs on a single goroutine woken by enqueues and completions.
type memoryScheduler struct {
	cfg     Config
	exec    Executor
	bus     *events.Bus
	logger  logging.Logger
	persist persistFunc

	mu        sync.Mutex
	jobs      map[string]*Job
	waiting   []waitingJob
	seq       uint64
	active    int
	completed []string
	failed    []string
	// cumulative counters, unaffected by history eviction
	completedTotal int
	failedTotal    int
	closed         bool

	wake chan struct{}
	stop chan struct{}
}

type waitingJob struct {
	job *Job
	seq uint64
}

func newMemoryScheduler(cfg Config, exec Executor, bus *events.Bus, logger logging.Logger, persist persistFunc) *memoryScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = DefaultConfig().DefaultTimeoutMs
	}
	if cfg.GraceMs <= 0 {
		cfg.GraceMs = DefaultConfig().GraceMs
	}
	if cfg.HistoryCompleted <= 0 {
		cfg.HistoryCompleted = DefaultConfig().HistoryCompleted
	}
	if cfg.HistoryFailed <= 0 {
		cfg.HistoryFailed = DefaultConfig().HistoryFailed
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("queue")
	}

	s := &memoryScheduler{
		cfg:     cfg,
		exec:    exec,
		bus:     bus,
		logger:  logger,
		persist: persist,
		jobs:    make(map[string]*Job),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func newMemoryBackend(cfg Config, exec Executor, bus *events.Bus, logger logging.Logger) (Backend, error) {
	if exec == nil {
		return nil, fmt.Errorf("queue: memory backend requires an executor")
	}
	return newMemoryScheduler(cfg, exec, bus, logger, nil), nil
}

func (s *memoryScheduler) Enqueue(ctx context.Context, req ScanRequest) (*Job, error) {
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = s.cfg.DefaultTimeoutMs
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	job := &Job{
		ID:         uuid.New().String(),
		Request:    req,
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.seq++
	seq := s.seq
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	// Record and announce the queued state before the job becomes
	// dispatchable, so "queued" can never trail "started".
	s.record(&snapshot)
	s.publish(&snapshot, events.TypeQueued, nil)

	s.mu.Lock()
	if s.closed {
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.waiting = append(s.waiting, waitingJob{job: job, seq: seq})
	s.mu.Unlock()

	s.logger.Info("scan job queued",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "url", Value: req.URL},
		logging.Field{Key: "priority", Value: req.Priority})
	s.kick()
	return &snapshot, nil
}

func (s *memoryScheduler) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

func (s *memoryScheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		Waiting:   len(s.waiting),
		Active:    s.active,
		Completed: s.completedTotal,
		Failed:    s.failedTotal,
	}
}

func (s *memoryScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
}

func (s *memoryScheduler) loop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			s.dispatch()
		}
	}
}

func (s *memoryScheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch promotes waiting jobs while worker slots are free. Selection
// is highest priority first, then enqueue order.
func (s *memoryScheduler) dispatch() {
	var started []*Job

	s.mu.Lock()
	for !s.closed && s.active < s.cfg.Workers && len(s.waiting) > 0 {
		best := 0
		for i := 1; i < len(s.waiting); i++ {
			w := s.waiting[i]
			if w.job.Request.Priority > s.waiting[best].job.Request.Priority ||
				(w.job.Request.Priority == s.waiting[best].job.Request.Priority && w.seq < s.waiting[best].seq) {
				best = i
			}
		}
		job := s.waiting[best].job
		s.waiting = append(s.waiting[:best], s.waiting[best+1:]...)

		now := time.Now().UTC()
		job.State = StateActive
		job.StartedAt = &now
		s.active++
		snapshot := *job
		started = append(started, &snapshot)
	}
	s.mu.Unlock()

	for _, job := range started {
		s.record(job)
		s.publish(job, events.TypeStarted, nil)
		go s.run(job.ID, job.Request)
	}
}

// run executes one job, racing the executor against the analysis timeout
// plus a scheduler-side grace. A stuck executor times out here even if it
// ignores its context; it fails the job, not the worker slot.
func (s *memoryScheduler) run(jobID string, req ScanRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), req.Timeout()+s.cfg.grace())
	defer cancel()

	type outcome struct {
		result *model.ScanResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.exec(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			s.finishFailed(jobID, out.err.Error())
			return
		}
		if out.result == nil {
			s.finishFailed(jobID, "executor returned no result")
			return
		}
		s.finishCompleted(jobID, out.result)
	case <-ctx.Done():
		s.finishFailed(jobID, fmt.Sprintf("scan timed out after %s", req.Timeout()))
	}
}

func (s *memoryScheduler) finishCompleted(jobID string, result *model.ScanResult) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != StateActive {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.Result = result
	s.active--
	s.completedTotal++
	s.completed = append(s.completed, jobID)
	if len(s.completed) > s.cfg.HistoryCompleted {
		evict := s.completed[0]
		s.completed = s.completed[1:]
		delete(s.jobs, evict)
	}
	snapshot := *job
	s.mu.Unlock()

	s.record(&snapshot)
	s.publish(&snapshot, events.TypeCompleted, result)
	s.logger.Info("scan job completed",
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "url", Value: snapshot.Request.URL},
		logging.Field{Key: "score", Value: result.Score},
		logging.Field{Key: "severity", Value: string(result.Severity)})
	s.kick()
}

func (s *memoryScheduler) finishFailed(jobID, reason string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != StateActive {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.State = StateFailed
	job.FinishedAt = &now
	job.FailureReason = reason
	s.active--
	s.failedTotal++
	s.failed = append(s.failed, jobID)
	if len(s.failed) > s.cfg.HistoryFailed {
		evict := s.failed[0]
		s.failed = s.failed[1:]
		delete(s.jobs, evict)
	}
	snapshot := *job
	s.mu.Unlock()

	s.record(&snapshot)
	s.publish(&snapshot, events.TypeFailed, nil)
	s.logger.Warn("scan job failed",
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "url", Value: snapshot.Request.URL},
		logging.Field{Key: "reason", Value: reason})
	s.kick()
}

func (s *memoryScheduler) record(job *Job) {
	if s.persist != nil {
		s.persist(job)
	}
}

// publish fans a lifecycle event out to the job topic, the requester's
// topic when one exists, and the public topic.
func (s *memoryScheduler) publish(job *Job, typ events.Type, result *model.ScanResult) {
	if s.bus == nil {
		return
	}
	ev := events.Event{
		Type:      typ,
		JobID:     job.ID,
		URL:       job.Request.URL,
		Timestamp: time.Now().UTC(),
	}
	if typ == events.TypeFailed {
		ev.Error = job.FailureReason
	}
	if result != nil {
		ev.ScanID = result.ID
		ev.Score = result.Score
		ev.Severity = result.Severity
		ev.DurationMs = result.DurationMs
	}

	s.bus.Publish(events.JobTopic(job.ID), ev)
	if job.Request.RequesterID != "" {
		s.bus.Publish(events.UserTopic(job.Request.RequesterID), ev)
	}
	s.bus.Publish(events.PublicTopic, ev)
}
