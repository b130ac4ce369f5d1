package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
	"TradeWatch/pkg/cache"
	"TradeWatch/pkg/logger"

	"github.com/robfig/cron/v3"
)

const portfolioLockKey = "tradewatch:portfolio:run"

// Watchlist lists the instruments currently monitored.
type Watchlist interface {
	Instruments() []*models.MonitoredInstrument
}

// PortfolioOptions configure the daily re-analysis.
type PortfolioOptions struct {
	Enabled    bool
	Times      []string
	Timezone   string
	Symbols    []string
	Sequential bool
	MaxWorkers int
	Timeout    time.Duration
	Sync       bool
}

// PortfolioScheduler re-analyses the portfolio at fixed local times each day.
// When no symbols are configured the monitored instruments are used.
type PortfolioScheduler struct {
	analysis  *AnalysisUsecase
	watchlist Watchlist
	locker    cache.Service
	logger    *logger.Logger
	loc       *time.Location

	mu          sync.Mutex
	opts        PortfolioOptions
	cron        *cron.Cron
	entries     []cron.EntryID
	running     bool
	lastRunAt   *time.Time
	lastBatchID string
}

func NewPortfolioScheduler(analysis *AnalysisUsecase, watchlist Watchlist, locker cache.Service, l *logger.Logger, opts PortfolioOptions) (*PortfolioScheduler, error) {
	if l == nil {
		l = logger.Nop()
	}
	tz := opts.Timezone
	if tz == "" {
		tz = "Asia/Shanghai"
		opts.Timezone = tz
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: portfolio timezone %q: %v", models.ErrInvalidSchedule, tz, err)
	}
	p := &PortfolioScheduler{
		analysis:  analysis,
		watchlist: watchlist,
		locker:    locker,
		logger:    l,
		loc:       loc,
		opts:      opts,
		cron:      cron.New(cron.WithLocation(loc)),
	}
	if err := p.schedule(opts.Times); err != nil {
		return nil, err
	}
	return p, nil
}

// CronSpec converts a local "HH:MM" time into a daily cron expression.
func CronSpec(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("%w: run time %q is not HH:MM", models.ErrInvalidSchedule, hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// Start begins firing scheduled runs.
func (p *PortfolioScheduler) Start() {
	p.cron.Start()
	p.logger.Info("portfolio schedule started",
		logger.Strings("times", p.opts.Times),
		logger.String("timezone", p.opts.Timezone))
}

// Stop halts the cron and waits for a running trigger to return.
func (p *PortfolioScheduler) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// UpdateTimes replaces the daily run times.
func (p *PortfolioScheduler) UpdateTimes(times []string) (models.PortfolioStatus, error) {
	if err := p.schedule(times); err != nil {
		return p.Status(), err
	}
	p.logger.Info("portfolio times updated", logger.Strings("times", times))
	return p.Status(), nil
}

func (p *PortfolioScheduler) schedule(times []string) error {
	specs := make([]string, 0, len(times))
	for _, t := range times {
		spec, err := CronSpec(t)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.entries {
		p.cron.Remove(id)
	}
	p.entries = p.entries[:0]
	p.opts.Times = append([]string(nil), times...)
	if !p.opts.Enabled {
		return nil
	}
	for _, spec := range specs {
		id, err := p.cron.AddFunc(spec, p.trigger)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidSchedule, err)
		}
		p.entries = append(p.entries, id)
	}
	return nil
}

func (p *PortfolioScheduler) trigger() {
	if _, err := p.RunNow(context.Background()); err != nil {
		p.logger.Warn("scheduled portfolio run skipped", logger.Error(err))
	}
}

// RunNow starts a re-analysis unless one is already in progress here or on
// another instance holding the cache lock. It returns the batch id.
func (p *PortfolioScheduler) RunNow(ctx context.Context) (string, error) {
	symbols := p.symbols()
	if len(symbols) == 0 {
		return "", fmt.Errorf("%w: portfolio is empty", models.ErrInvalidArgument)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return "", fmt.Errorf("portfolio run: %w", models.ErrBusy)
	}
	p.running = true
	opts := p.opts
	p.mu.Unlock()

	lockTTL := opts.Timeout*time.Duration(len(symbols)) + time.Minute
	if p.locker != nil {
		ok, err := p.locker.TryLock(ctx, portfolioLockKey, lockTTL)
		if err != nil || !ok {
			p.release(false)
			if err != nil {
				return "", fmt.Errorf("portfolio lock: %w", err)
			}
			return "", fmt.Errorf("portfolio run on another instance: %w", models.ErrBusy)
		}
	}

	concurrency := opts.MaxWorkers
	if opts.Sequential {
		concurrency = 1
	}
	id, err := p.analysis.StartBatch(ctx, BatchSpec{
		Symbols:     symbols,
		Concurrency: concurrency,
		Timeout:     opts.Timeout,
		Params:      p.analysis.params("", nil),
		Sync:        opts.Sync,
		Done: func(res *models.BatchResult) {
			p.release(true)
			p.logger.Info("portfolio run finished",
				logger.String("batch_id", res.BatchID),
				logger.Int("succeeded", res.Succeeded),
				logger.Int("total", res.Total))
		},
	})
	if err != nil {
		p.release(true)
		return "", err
	}

	now := time.Now().In(p.loc)
	p.mu.Lock()
	p.lastRunAt = &now
	p.lastBatchID = id
	p.mu.Unlock()
	p.logger.Info("portfolio run started", logger.String("batch_id", id), logger.Int("symbols", len(symbols)))
	return id, nil
}

func (p *PortfolioScheduler) release(unlock bool) {
	if unlock && p.locker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.locker.Unlock(ctx, portfolioLockKey); err != nil {
			p.logger.Warn("portfolio unlock failed", logger.Error(err))
		}
		cancel()
	}
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *PortfolioScheduler) symbols() []string {
	p.mu.Lock()
	configured := append([]string(nil), p.opts.Symbols...)
	p.mu.Unlock()
	if len(configured) > 0 {
		return configured
	}
	if p.watchlist == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, inst := range p.watchlist.Instruments() {
		if _, ok := seen[inst.Symbol]; ok {
			continue
		}
		seen[inst.Symbol] = struct{}{}
		out = append(out, inst.Symbol)
	}
	return out
}

// Status reports the schedule and its next firings.
func (p *PortfolioScheduler) Status() models.PortfolioStatus {
	symbols := p.symbols()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := models.PortfolioStatus{
		Enabled:     p.opts.Enabled,
		Times:       append([]string(nil), p.opts.Times...),
		Timezone:    p.opts.Timezone,
		Symbols:     symbols,
		Running:     p.running,
		LastBatchID: p.lastBatchID,
	}
	if p.lastRunAt != nil {
		t := *p.lastRunAt
		st.LastRunAt = &t
	}
	now := time.Now().In(p.loc)
	for _, id := range p.entries {
		if sched := p.cron.Entry(id).Schedule; sched != nil {
			st.NextRuns = append(st.NextRuns, sched.Next(now))
		}
	}
	sort.Slice(st.NextRuns, func(i, j int) bool { return st.NextRuns[i].Before(st.NextRuns[j]) })
	return st
}
