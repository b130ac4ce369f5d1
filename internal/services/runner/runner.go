package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/pkg/logger"
	"TradeWatch/pkg/metrics"

	"github.com/google/uuid"
)

// JobFunc is the body of a job. It should honour ctx cancellation when it can.
type JobFunc func(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisResult, error)

// SaveFunc persists a succeeded job. A returned error only marks the record unsaved.
type SaveFunc func(ctx context.Context, rec *models.JobRecord) error

// ProgressFunc observes completions. Calls are serialized and completed strictly increases.
type ProgressFunc func(completed, total int, jobID string, status models.JobStatus)

// DoneFunc receives the final result once every job is terminal.
type DoneFunc func(res *models.BatchResult)

// Batch describes one submission.
type Batch struct {
	ID          string
	Jobs        []*models.AnalysisJob
	Concurrency int
	Timeout     time.Duration
	Run         JobFunc
	Save        SaveFunc
	Progress    ProgressFunc
	Done        DoneFunc
}

func (b *Batch) validate() error {
	switch {
	case len(b.Jobs) == 0:
		return fmt.Errorf("%w: batch has no jobs", models.ErrInvalidArgument)
	case b.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", models.ErrInvalidArgument, b.Concurrency)
	case b.Timeout <= 0:
		return fmt.Errorf("%w: per-job timeout must be positive, got %s", models.ErrInvalidArgument, b.Timeout)
	case b.Run == nil:
		return fmt.Errorf("%w: job function is nil", models.ErrInvalidArgument)
	}
	for i, j := range b.Jobs {
		if j == nil {
			return fmt.Errorf("%w: job %d is nil", models.ErrInvalidArgument, i)
		}
	}
	return nil
}

// Runner executes batches of independent analysis jobs under bounded concurrency.
type Runner struct {
	logger  *logger.Logger
	metrics domrepo.Metrics
	tracker *Tracker
	active  sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithTracker replaces the default status tracker.
func WithTracker(t *Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// New creates a Runner. A nil logger or metrics disables them.
func New(l *logger.Logger, m domrepo.Metrics, opts ...Option) *Runner {
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	r := &Runner{logger: l, metrics: m, tracker: NewTracker(100)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status returns a snapshot of a tracked batch.
func (r *Runner) Status(batchID string) (*models.BatchStatus, error) {
	return r.tracker.Status(batchID)
}

// Batches returns snapshots of every tracked batch, newest first.
func (r *Runner) Batches() []*models.BatchStatus {
	return r.tracker.List()
}

// Start validates b and runs it in the background, returning its id.
// The batch keeps running until done or ctx is cancelled; poll Status for progress.
func (r *Runner) Start(ctx context.Context, b Batch) (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	r.tracker.begin(b.ID, b.Jobs, time.Now())
	r.active.Add(1)
	go func() {
		defer r.active.Done()
		if _, err := r.run(ctx, &b); err != nil {
			r.logger.Error("batch failed", logger.String("batch_id", b.ID), logger.Error(err))
		}
	}()
	return b.ID, nil
}

// Wait blocks until every batch launched by Start has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch runs b to completion and returns the aggregate result.
// Invalid batches are rejected before any job starts.
func (r *Runner) SubmitBatch(ctx context.Context, b Batch) (*models.BatchResult, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	r.tracker.begin(b.ID, b.Jobs, time.Now())
	return r.run(ctx, &b)
}

type eventKind int

const (
	jobStarted eventKind = iota
	jobFinished
)

type event struct {
	kind   eventKind
	index  int
	record models.JobRecord
}

func (r *Runner) run(ctx context.Context, b *Batch) (*models.BatchResult, error) {
	start := time.Now()
	total := len(b.Jobs)
	records := make([]models.JobRecord, total)
	for i, j := range b.Jobs {
		records[i] = models.JobRecord{JobID: j.ID, Symbol: j.Symbol, Status: models.JobPending}
	}

	workers := b.Concurrency
	if workers > total {
		workers = total
	}

	r.logger.Info("batch started",
		logger.String("batch_id", b.ID),
		logger.Int("jobs", total),
		logger.Int("concurrency", workers),
		logger.Duration("timeout_ms", b.Timeout))

	// Every job emits exactly one start and one finish event, so this never blocks a worker.
	events := make(chan event, 2*total)
	indexes := make(chan int)

	for w := 0; w < workers; w++ {
		go func() {
			for i := range indexes {
				r.execute(ctx, b, i, events)
			}
		}()
	}
	go func() {
		defer close(indexes)
		for i := range b.Jobs {
			indexes <- i
		}
	}()

	// Single writer for records, counters and progress.
	res := &models.BatchResult{BatchID: b.ID, Total: total}
	completed := 0
	for completed < total {
		ev := <-events
		switch ev.kind {
		case jobStarted:
			if records[ev.index].Status == models.JobPending {
				records[ev.index].Status = models.JobRunning
				records[ev.index].StartedAt = ev.record.StartedAt
			}
			r.tracker.update(b.ID, ev.index, records[ev.index], false)
			continue
		}

		rec := ev.record
		if records[ev.index].Status.Terminal() {
			continue
		}
		records[ev.index] = rec
		completed++
		switch rec.Status {
		case models.JobSucceeded:
			res.Succeeded++
		case models.JobTimedOut:
			res.TimedOut++
		default:
			res.Failed++
		}
		r.metrics.RecordJob(string(rec.Status), rec.Duration().Seconds())
		r.tracker.update(b.ID, ev.index, rec, true)
		r.notifyProgress(b, completed, total, rec)
	}

	res.Elapsed = time.Since(start)
	res.Records = records
	r.tracker.finish(b.ID, time.Now())
	r.metrics.RecordLatency("batch", res.Elapsed.Seconds())

	r.logger.Info("batch finished",
		logger.String("batch_id", b.ID),
		logger.Int("total", res.Total),
		logger.Int("succeeded", res.Succeeded),
		logger.Int("failed", res.Failed),
		logger.Int("timed_out", res.TimedOut),
		logger.Duration("elapsed_ms", res.Elapsed))
	r.notifyDone(b, res)
	return res, nil
}

func (r *Runner) notifyDone(b *Batch, res *models.BatchResult) {
	if b.Done == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("done callback panic",
				logger.String("batch_id", b.ID),
				logger.Any("panic", p))
		}
	}()
	b.Done(res)
}

func (r *Runner) notifyProgress(b *Batch, completed, total int, rec models.JobRecord) {
	if b.Progress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("progress callback panic",
				logger.String("batch_id", b.ID),
				logger.Any("panic", p))
		}
	}()
	b.Progress(completed, total, rec.JobID, rec.Status)
}

type outcome struct {
	result *models.AnalysisResult
	err    error
}

// execute runs job i and reports its start and finish on events.
func (r *Runner) execute(ctx context.Context, b *Batch, i int, events chan<- event) {
	job := b.Jobs[i]
	rec := models.JobRecord{JobID: job.ID, Symbol: job.Symbol, Status: models.JobRunning, StartedAt: time.Now()}
	events <- event{kind: jobStarted, index: i, record: rec}

	if err := ctx.Err(); err != nil {
		rec.Status = models.JobFailed
		rec.Error = fmt.Sprintf("batch cancelled: %v", err)
		rec.FinishedAt = time.Now()
		events <- event{kind: jobFinished, index: i, record: rec}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				out <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := b.Run(jobCtx, job)
		out <- outcome{result: res, err: err}
	}()

	select {
	case o := <-out:
		switch {
		case o.err == nil:
			rec.Status = models.JobSucceeded
			rec.Result = o.result
		case errors.Is(o.err, context.DeadlineExceeded) && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			rec.Status = models.JobTimedOut
			rec.Error = fmt.Sprintf("timed out after %s", b.Timeout)
		default:
			rec.Status = models.JobFailed
			rec.Error = o.err.Error()
		}
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			rec.Status = models.JobFailed
			rec.Error = fmt.Sprintf("batch cancelled: %v", ctx.Err())
		} else {
			// the body may keep running; only its outcome is abandoned
			rec.Status = models.JobTimedOut
			rec.Error = fmt.Sprintf("timed out after %s", b.Timeout)
		}
	}
	cancel()

	if rec.Status == models.JobSucceeded && b.Save != nil {
		if err := r.save(ctx, b, &rec); err != nil {
			rec.SaveError = err.Error()
			r.metrics.RecordError("save_result")
			r.logger.Warn("save result failed",
				logger.String("batch_id", b.ID),
				logger.String("job_id", rec.JobID),
				logger.Error(err))
		} else {
			rec.Saved = true
		}
	}
	if rec.Status != models.JobSucceeded {
		r.logger.Warn("job did not succeed",
			logger.String("batch_id", b.ID),
			logger.String("job_id", rec.JobID),
			logger.String("symbol", rec.Symbol),
			logger.String("status", string(rec.Status)),
			logger.String("reason", rec.Error))
	}

	rec.FinishedAt = time.Now()
	events <- event{kind: jobFinished, index: i, record: rec}
}

func (r *Runner) save(ctx context.Context, b *Batch, rec *models.JobRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("save panic: %v", p)
		}
	}()
	return b.Save(ctx, rec)
}
