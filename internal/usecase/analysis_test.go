package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/internal/services/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalysis struct {
	mu      sync.Mutex
	results map[string]*models.AnalysisResult
	errs    map[string]error
	block   map[string]bool
	seen    []string
}

func (f *fakeAnalysis) Analyze(ctx context.Context, symbol string, params models.AnalysisParams) (*models.AnalysisResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, symbol)
	res, err, block := f.results[symbol], f.errs[symbol], f.block[symbol]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &models.AnalysisResult{Symbol: symbol, Decision: models.Decision{Rating: "hold"}}, nil
	}
	return res, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []*models.AnalysisRecord
	err     error
}

func (s *recordingSink) Init(ctx context.Context) error { return nil }
func (s *recordingSink) SaveResult(ctx context.Context, rec *models.AnalysisRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}
func (s *recordingSink) SaveMonitorEvent(ctx context.Context, ev *models.ThresholdEvent) (string, error) {
	return ev.ID, nil
}
func (s *recordingSink) Health(ctx context.Context) error { return nil }
func (s *recordingSink) Close() error                     { return nil }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, msg *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	specs []models.InstrumentSpec
}

func (f *fakeSyncer) UpsertBySymbol(spec models.InstrumentSpec) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	return "id-" + spec.Symbol, true, nil
}

func newTestUsecase(a *fakeAnalysis, sink *recordingSink, n *recordingNotifier, s *fakeSyncer) *AnalysisUsecase {
	var (
		rs domrepo.ResultSink
		ns domrepo.NotificationSink
		is InstrumentSyncer
	)
	if sink != nil {
		rs = sink
	}
	if n != nil {
		ns = n
	}
	if s != nil {
		is = s
	}
	return NewAnalysisUsecase(runner.New(nil, nil), a, rs, ns, is, nil, AnalysisOptions{NotifySummary: true})
}

func TestAnalyzeSingle(t *testing.T) {
	a := &fakeAnalysis{results: map[string]*models.AnalysisResult{
		"600519": {Symbol: "600519", Name: "Moutai", Decision: models.Decision{Rating: "buy"}},
	}}
	sink := &recordingSink{}
	u := newTestUsecase(a, sink, nil, nil)

	rec, err := u.AnalyzeSingle(context.Background(), models.AnalysisRequest{Symbol: " 600519 ", TimeoutSeconds: 5})
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, rec.Status)
	assert.True(t, rec.Saved)
	assert.NotEmpty(t, rec.RecordID)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "buy", sink.records[0].Rating)
	assert.Contains(t, sink.records[0].Payload, `"Moutai"`)

	_, err = u.AnalyzeSingle(context.Background(), models.AnalysisRequest{Symbol: "A,B"})
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}

func TestAnalyzeSingle_SaveFailureKeepsSuccess(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	u := newTestUsecase(&fakeAnalysis{}, sink, nil, nil)

	rec, err := u.AnalyzeSingle(context.Background(), models.AnalysisRequest{Symbol: "AAPL", TimeoutSeconds: 5})
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, rec.Status)
	assert.False(t, rec.Saved)
	assert.Equal(t, "disk full", rec.SaveError)
}

func TestRunBatch_MixedOutcomesSyncAndSummary(t *testing.T) {
	a := &fakeAnalysis{
		results: map[string]*models.AnalysisResult{
			"A": {Symbol: "A", Decision: models.Decision{Rating: "buy", EntryRange: "10-12", TakeProfit: "15", StopLoss: "9"}},
		},
		errs:  map[string]error{"B": errors.New("model refused")},
		block: map[string]bool{"C": true},
	}
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	syncer := &fakeSyncer{}
	u := newTestUsecase(a, sink, notifier, syncer)

	spec, err := u.SpecFromRequest(models.BatchRequest{
		Symbols:        "a\nb,c",
		Mode:           "parallel",
		MaxWorkers:     2,
		TimeoutSeconds: 1,
		SyncToMonitor:  true,
	})
	require.NoError(t, err)
	spec.Timeout = 100 * time.Millisecond

	res, err := u.RunBatch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.TimedOut)
	assert.Equal(t, []string{"A", "B", "C"}, []string{res.Records[0].Symbol, res.Records[1].Symbol, res.Records[2].Symbol})

	require.Len(t, syncer.specs, 1)
	assert.Equal(t, "A", syncer.specs[0].Symbol)
	assert.NotNil(t, syncer.specs[0].EntryRange)

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, models.NotifyBatchSummary, n.Kind)
	require.NotNil(t, n.Batch)
	assert.Equal(t, 1, n.Batch.Synced)
	assert.Len(t, n.Batch.Failures, 2)
	assert.Len(t, sink.records, 1)
}

func TestSpecFromRequest(t *testing.T) {
	u := newTestUsecase(&fakeAnalysis{}, nil, nil, nil)

	_, err := u.SpecFromRequest(models.BatchRequest{Symbols: " , \n"})
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	spec, err := u.SpecFromRequest(models.BatchRequest{Symbols: "A B", Mode: "sequential", MaxWorkers: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Concurrency)
	assert.Equal(t, 300*time.Second, spec.Timeout)
	assert.Equal(t, "1y", spec.Params.Period)
}

func TestStartBatch_TracksStatus(t *testing.T) {
	u := newTestUsecase(&fakeAnalysis{}, nil, nil, nil)
	id, err := u.StartBatch(context.Background(), BatchSpec{Symbols: []string{"X", "Y"}, Concurrency: 2, Timeout: time.Second})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := u.BatchStatus(id)
		return err == nil && st.State == models.BatchCompleted
	}, time.Second, 5*time.Millisecond)

	st, err := u.BatchStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Succeeded)
	assert.Len(t, u.Batches(), 1)
}
