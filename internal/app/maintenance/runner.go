package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultPromotionSpec      = "@every 15s"
	defaultDispatchSpec       = "@every 30s"
	defaultPurgeSpec          = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Job names double as the SweepDuration metric label.
const (
	JobPromotion = "promotion"
	JobDispatch  = "dispatch"
	JobPurge     = "cache_purge"
	JobAudit     = "audit_retention"
)

// Promoter moves due scheduled notifications into fan-out.
type Promoter interface {
	Sweep(ctx context.Context) (services.PromotionResult, error)
}

// Dispatcher drains due out-of-band channel jobs.
type Dispatcher interface {
	Sweep(ctx context.Context) (services.DispatchResult, error)
}

// CachePurger drops expired cache entries such as lapsed liveness markers.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditPruner enforces audit log retention.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Recorder receives the outcome of every job run for health reporting.
type Recorder interface {
	RecordJob(job string, err error, duration time.Duration)
}

// Runner schedules the engine's background sweeps.
type Runner struct {
	promoter   Promoter
	dispatcher Dispatcher
	purger     CachePurger
	audit      AuditPruner
	recorder   Recorder

	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	promotionSchedule string
	dispatchSchedule  string
	purgeSchedule     string
	auditSchedule     string
}

// Option customises the Runner.
type Option func(*Runner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock handed to the cache purge.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDispatcher enables the channel dispatch sweep.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Runner) { r.dispatcher = d }
}

// WithCachePurger enables the expired cache purge.
func WithCachePurger(p CachePurger) Option {
	return func(r *Runner) { r.purger = p }
}

// WithAuditPruner enables audit retention.
func WithAuditPruner(a AuditPruner, retentionDays int) Option {
	return func(r *Runner) {
		r.audit = a
		if retentionDays > 0 {
			r.retention = retentionDays
		}
	}
}

// WithRecorder reports job outcomes to r, typically the health job tracker.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithPromotionSchedule overrides the cron specification for the promotion sweep.
func WithPromotionSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.promotionSchedule = spec
		}
	}
}

// WithDispatchSchedule overrides the cron specification for the dispatch sweep.
func WithDispatchSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.dispatchSchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the cache purge.
func WithPurgeSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.purgeSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention.
func WithAuditSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.auditSchedule = spec
		}
	}
}

// NewRunner constructs a Runner. Jobs whose dependency is nil are skipped.
func NewRunner(promoter Promoter, opts ...Option) *Runner {
	r := &Runner{
		promoter:          promoter,
		now:               time.Now,
		retention:         defaultAuditRetentionDays,
		promotionSchedule: defaultPromotionSpec,
		dispatchSchedule:  defaultDispatchSpec,
		purgeSchedule:     defaultPurgeSpec,
		auditSchedule:     defaultAuditSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return r
}

type job struct {
	name string
	spec string
	run  func(context.Context) error
}

func (r *Runner) jobs() []job {
	var jobs []job
	if r.promoter != nil {
		jobs = append(jobs, job{name: JobPromotion, spec: r.promotionSchedule, run: r.promote})
	}
	if r.dispatcher != nil {
		jobs = append(jobs, job{name: JobDispatch, spec: r.dispatchSchedule, run: r.dispatch})
	}
	if r.purger != nil {
		jobs = append(jobs, job{name: JobPurge, spec: r.purgeSchedule, run: r.purge})
	}
	if r.audit != nil && r.retention > 0 {
		jobs = append(jobs, job{name: JobAudit, spec: r.auditSchedule, run: r.pruneAudit})
	}
	return jobs
}

// Start registers every enabled job with the cron scheduler and launches it.
func (r *Runner) Start() error {
	jobs := r.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		if _, err := r.cron.AddFunc(j.spec, r.scheduled(j)); err != nil {
			return fmt.Errorf("maintenance: schedule %s (%q): %w", j.name, j.spec, err)
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates failures.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range r.jobs() {
		if err := r.runJob(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errs
}

func (r *Runner) scheduled(j job) func() {
	return func() {
		if err := r.runJob(context.Background(), j); err != nil {
			r.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
		}
	}
}

func (r *Runner) runJob(ctx context.Context, j job) error {
	started := time.Now()
	err := j.run(ctx)
	elapsed := time.Since(started)
	metrics.SweepDuration.WithLabelValues(j.name).Observe(elapsed.Seconds())
	if r.recorder != nil {
		r.recorder.RecordJob(j.name, err, elapsed)
	}
	return err
}

func (r *Runner) promote(ctx context.Context) error {
	result, err := r.promoter.Sweep(ctx)
	if result.Promoted > 0 {
		r.log.Debug("promotion sweep",
			zap.Int("promoted", result.Promoted),
			zap.Int("delivered", result.Delivered),
		)
	}
	return err
}

func (r *Runner) dispatch(ctx context.Context) error {
	result, err := r.dispatcher.Sweep(ctx)
	if result.Claimed > 0 {
		r.log.Debug("dispatch sweep",
			zap.Int("claimed", result.Claimed),
			zap.Int("delivered", result.Delivered),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
		)
	}
	return err
}

func (r *Runner) purge(ctx context.Context) error {
	removed, err := r.purger.PurgeExpired(ctx, r.now())
	if removed > 0 {
		r.log.Debug("purged expired cache entries", zap.Int64("removed", removed))
	}
	return err
}

func (r *Runner) pruneAudit(ctx context.Context) error {
	removed, err := r.audit.CleanupOlderThan(ctx, r.retention)
	if removed > 0 {
		r.log.Info("pruned audit logs", zap.Int64("removed", removed), zap.Int("retention_days", r.retention))
	}
	return err
}
