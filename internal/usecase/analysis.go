package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	domsvc "TradeWatch/internal/domain/service"
	"TradeWatch/internal/services/runner"
	"TradeWatch/pkg/logger"

	"github.com/google/uuid"
)

// InstrumentSyncer receives thresholds extracted from analysis decisions.
type InstrumentSyncer interface {
	UpsertBySymbol(spec models.InstrumentSpec) (string, bool, error)
}

// AnalysisOptions are the batch defaults.
type AnalysisOptions struct {
	DefaultConcurrency int
	MaxConcurrency     int
	DefaultTimeout     time.Duration
	Period             string
	AutoSync           bool
	NotifySummary      bool
}

func (o *AnalysisOptions) normalize() {
	if o.DefaultConcurrency <= 0 {
		o.DefaultConcurrency = 3
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 10
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 300 * time.Second
	}
	if o.Period == "" {
		o.Period = "1y"
	}
}

// BatchSpec is a batch request after parsing.
type BatchSpec struct {
	Symbols     []string
	Concurrency int
	Timeout     time.Duration
	Params      models.AnalysisParams
	Sync        bool
	Progress    runner.ProgressFunc
	Done        runner.DoneFunc
}

// AnalysisUsecase runs single and batch analyses through the job runner,
// persists successful results and optionally feeds them to the monitor.
type AnalysisUsecase struct {
	runner   *runner.Runner
	analysis domsvc.AnalysisService
	sink     domrepo.ResultSink
	notifier domrepo.NotificationSink
	syncer   InstrumentSyncer
	logger   *logger.Logger
	opts     AnalysisOptions
}

func NewAnalysisUsecase(
	r *runner.Runner,
	analysis domsvc.AnalysisService,
	sink domrepo.ResultSink,
	notifier domrepo.NotificationSink,
	syncer InstrumentSyncer,
	l *logger.Logger,
	opts AnalysisOptions,
) *AnalysisUsecase {
	if l == nil {
		l = logger.Nop()
	}
	opts.normalize()
	return &AnalysisUsecase{
		runner:   r,
		analysis: analysis,
		sink:     sink,
		notifier: notifier,
		syncer:   syncer,
		logger:   l,
		opts:     opts,
	}
}

// AnalyzeSingle analyses one symbol as a one-job batch and waits for it.
func (u *AnalysisUsecase) AnalyzeSingle(ctx context.Context, req models.AnalysisRequest) (*models.JobRecord, error) {
	symbols := ParseStockList(req.Symbol)
	if len(symbols) != 1 {
		return nil, fmt.Errorf("%w: exactly one symbol expected, got %d", models.ErrInvalidArgument, len(symbols))
	}
	spec := BatchSpec{
		Symbols:     symbols,
		Concurrency: 1,
		Timeout:     seconds(req.TimeoutSeconds, u.opts.DefaultTimeout),
		Params:      u.params(req.Period, req.Analysts),
	}
	res, err := u.runner.SubmitBatch(ctx, u.batch(spec))
	if err != nil {
		return nil, err
	}
	rec := res.Records[0]
	return &rec, nil
}

// RunBatch runs a batch to completion.
func (u *AnalysisUsecase) RunBatch(ctx context.Context, spec BatchSpec) (*models.BatchResult, error) {
	return u.runner.SubmitBatch(ctx, u.batch(spec))
}

// StartBatch launches a batch in the background and returns its id.
// The batch outlives ctx cancellation; it is bound only to ctx values.
func (u *AnalysisUsecase) StartBatch(ctx context.Context, spec BatchSpec) (string, error) {
	return u.runner.Start(context.WithoutCancel(ctx), u.batch(spec))
}

// BatchStatus returns the tracked state of a batch.
func (u *AnalysisUsecase) BatchStatus(id string) (*models.BatchStatus, error) {
	return u.runner.Status(id)
}

// Batches lists tracked batches, newest first.
func (u *AnalysisUsecase) Batches() []*models.BatchStatus {
	return u.runner.Batches()
}

// SpecFromRequest parses an HTTP batch request.
func (u *AnalysisUsecase) SpecFromRequest(req models.BatchRequest) (BatchSpec, error) {
	symbols := ParseStockList(req.Symbols)
	if len(symbols) == 0 {
		return BatchSpec{}, fmt.Errorf("%w: no symbols in request", models.ErrInvalidArgument)
	}
	concurrency := req.MaxWorkers
	if req.Mode == "sequential" {
		concurrency = 1
	}
	return BatchSpec{
		Symbols:     symbols,
		Concurrency: concurrency,
		Timeout:     seconds(req.TimeoutSeconds, u.opts.DefaultTimeout),
		Params:      u.params(req.Period, req.Analysts),
		Sync:        req.SyncToMonitor || u.opts.AutoSync,
	}, nil
}

func (u *AnalysisUsecase) batch(spec BatchSpec) runner.Batch {
	id := uuid.NewString()
	jobs := make([]*models.AnalysisJob, len(spec.Symbols))
	for i, s := range spec.Symbols {
		jobs[i] = &models.AnalysisJob{ID: uuid.NewString(), Symbol: s, Params: spec.Params}
	}

	concurrency := spec.Concurrency
	if concurrency == 0 {
		concurrency = u.opts.DefaultConcurrency
	}
	if concurrency > u.opts.MaxConcurrency {
		concurrency = u.opts.MaxConcurrency
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = u.opts.DefaultTimeout
	}

	b := runner.Batch{
		ID:          id,
		Jobs:        jobs,
		Concurrency: concurrency,
		Timeout:     timeout,
		Run:         u.run,
		Progress:    spec.Progress,
		Done: func(res *models.BatchResult) {
			u.finish(res, spec.Sync)
			if spec.Done != nil {
				spec.Done(res)
			}
		},
	}
	if u.sink != nil {
		b.Save = func(ctx context.Context, rec *models.JobRecord) error { return u.save(ctx, id, rec) }
	}
	return b
}

func (u *AnalysisUsecase) run(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisResult, error) {
	res, err := u.analysis.Analyze(ctx, job.Symbol, job.Params)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("analysis of %s returned no result", job.Symbol)
	}
	if res.Symbol == "" {
		res.Symbol = job.Symbol
	}
	return res, nil
}

func (u *AnalysisUsecase) save(ctx context.Context, batchID string, rec *models.JobRecord) error {
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	id, err := u.sink.SaveResult(ctx, &models.AnalysisRecord{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		JobID:     rec.JobID,
		Symbol:    rec.Symbol,
		Name:      rec.Result.Name,
		Rating:    rec.Result.Decision.Rating,
		Summary:   rec.Result.Summary,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	rec.RecordID = id
	return nil
}

// finish syncs decisions into the monitor and sends the completion summary.
func (u *AnalysisUsecase) finish(res *models.BatchResult, sync bool) {
	summary := &models.BatchSummary{
		BatchID:   res.BatchID,
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		TimedOut:  res.TimedOut,
		Elapsed:   res.Elapsed,
	}
	for _, rec := range res.Records {
		if rec.Status != models.JobSucceeded {
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %s", rec.Symbol, rec.Error))
			continue
		}
		if sync && u.syncer != nil && rec.Result != nil && u.syncOne(rec.Result) {
			summary.Synced++
		}
	}

	if sync {
		u.logger.Info("analysis results synced to monitor",
			logger.String("batch_id", res.BatchID),
			logger.Int("synced", summary.Synced))
	}
	if !u.opts.NotifySummary || u.notifier == nil || res.Total < 2 {
		return
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		Kind:      models.NotifyBatchSummary,
		Title:     "Batch analysis finished",
		Body:      summaryText(summary),
		Batch:     summary,
		CreatedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.notifier.Send(ctx, n); err != nil {
		u.logger.Warn("batch summary notification failed",
			logger.String("batch_id", res.BatchID),
			logger.Error(err))
	}
}

func (u *AnalysisUsecase) syncOne(res *models.AnalysisResult) bool {
	spec, ok := specFromDecision(res)
	if !ok {
		return false
	}
	id, created, err := u.syncer.UpsertBySymbol(spec)
	if err != nil {
		u.logger.Warn("sync to monitor failed", logger.String("symbol", res.Symbol), logger.Error(err))
		return false
	}
	u.logger.Debug("synced to monitor",
		logger.String("symbol", res.Symbol),
		logger.String("instrument_id", id),
		logger.Bool("created", created))
	return true
}

func (u *AnalysisUsecase) params(period string, analysts []string) models.AnalysisParams {
	if period == "" {
		period = u.opts.Period
	}
	return models.AnalysisParams{Period: period, Analysts: analysts}
}

func summaryText(s *models.BatchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d succeeded, %d failed, %d timed out in %s",
		s.Succeeded, s.Total, s.Failed, s.TimedOut, s.Elapsed.Round(time.Second))
	if s.Synced > 0 {
		fmt.Fprintf(&b, "; %d synced to monitor", s.Synced)
	}
	for _, f := range s.Failures {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
