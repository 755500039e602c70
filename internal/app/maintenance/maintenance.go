package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/monitoring"
	"github.com/charlesng35/mailbridge/internal/services"
	"github.com/charlesng35/mailbridge/pkg/logger"
)

// Job names reported to the health tracker.
const (
	JobReconcileCounters = "counter_reconcile"
	JobAuditRetention    = "audit_retention"
)

const (
	defaultAuditRetentionDays = 90
	defaultReconcileSpec      = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Scheduler runs background maintenance: counter cache reconciliation and audit log retention.
type Scheduler struct {
	db        *gorm.DB
	audit     *services.AuditService
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	reconcileSchedule string
	auditSchedule     string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(s *Scheduler) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithReconcileSchedule overrides the cron specification for counter reconciliation.
func WithReconcileSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.reconcileSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// NewScheduler constructs a Scheduler. A nil audit service skips retention enforcement.
func NewScheduler(db *gorm.DB, audit *services.AuditService, opts ...Option) (*Scheduler, error) {
	if db == nil {
		return nil, errors.New("maintenance: db is required")
	}

	s := &Scheduler{
		db:                db,
		audit:             audit,
		retention:         defaultAuditRetentionDays,
		reconcileSchedule: defaultReconcileSpec,
		auditSchedule:     defaultAuditSpec,
		log:               logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s, nil
}

// Start registers the jobs with the cron scheduler and launches it.
func (s *Scheduler) Start() error {
	monitoring.RegisterJob(JobReconcileCounters)
	if _, err := s.cron.AddFunc(s.reconcileSchedule, func() {
		_ = s.reconcile(context.Background())
	}); err != nil {
		return err
	}

	if s.audit != nil && s.retention > 0 {
		monitoring.RegisterJob(JobAuditRetention)
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			_ = s.pruneAudit(context.Background())
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every maintenance routine sequentially, collecting failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	errs := s.reconcile(ctx)
	if s.audit != nil && s.retention > 0 {
		errs = multierr.Append(errs, s.pruneAudit(ctx))
	}
	return errs
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	started := time.Now()
	stats, err := ReconcileCounters(ctx, s.db)
	monitoring.RecordJobRun(JobReconcileCounters, started, err)
	if err != nil {
		s.log.Warn("counter reconciliation failed", zap.Error(err))
		return err
	}
	if stats.Repaired() > 0 {
		s.log.Info("counter caches repaired",
			zap.Int("partners", stats.Partners),
			zap.Int("imap_providers", stats.Providers),
		)
	}
	return nil
}

func (s *Scheduler) pruneAudit(ctx context.Context) error {
	started := time.Now()
	removed, err := s.audit.CleanupOlderThan(ctx, s.retention)
	monitoring.RecordJobRun(JobAuditRetention, started, err)
	if err != nil {
		s.log.Warn("audit cleanup failed", zap.Error(err))
		return err
	}
	if removed > 0 {
		s.log.Info("audit logs pruned", zap.Int64("removed", removed))
	}
	return nil
}
