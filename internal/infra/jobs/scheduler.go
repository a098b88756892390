package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

// AgencyLister lists agencies that should receive scheduled analyses.
type AgencyLister interface {
	ActiveAgencyIDs(ctx context.Context) ([]shared.ID, error)
}

// AnalysisSubmitter submits a job on behalf of an agency without a principal.
type AnalysisSubmitter interface {
	SubmitForAgency(ctx context.Context, agencyID shared.ID, kind analysis.Kind, params map[string]any) (*app.SubmitAnalysisOutput, error)
}

// scheduleParser accepts standard five-field specs and @descriptors.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler submits recurring analyses for every active agency.
type Scheduler struct {
	cron      *cron.Cron
	agencies  AgencyLister
	submitter AnalysisSubmitter
	kinds     []analysis.Kind
	timeout   time.Duration
	logger    *logger.Logger
}

// NewScheduler registers one cron entry per kind. specs maps kind names to
// cron specs.
func NewScheduler(specs map[string]string, agencies AgencyLister, submitter AnalysisSubmitter, log *logger.Logger) (*Scheduler, error) {
	log = log.With("component", "analysis_scheduler")
	cl := &cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		agencies:  agencies,
		submitter: submitter,
		timeout:   5 * time.Minute,
		logger:    log,
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind, err := analysis.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", name, err)
		}
		if _, err := s.cron.AddFunc(specs[name], func() { s.runScheduled(kind) }); err != nil {
			return nil, fmt.Errorf("schedule %q: invalid spec %q: %w", name, specs[name], err)
		}
		s.kinds = append(s.kinds, kind)
	}
	return s, nil
}

// Kinds returns the scheduled kinds in name order.
func (s *Scheduler) Kinds() []analysis.Kind {
	return s.kinds
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for running submissions to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.kinds) == 0 {
		s.logger.Info("no analyses scheduled")
		<-ctx.Done()
		return nil
	}
	s.logger.Info("starting analysis scheduler", "kinds", s.kinds)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("analysis scheduler stopped")
	return nil
}

func (s *Scheduler) runScheduled(kind analysis.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunKind(ctx, kind); err != nil {
		s.logger.Error("scheduled analysis run failed", "kind", kind, "error", err)
	}
}

// RunKind submits kind for every active agency and returns how many jobs
// were submitted. A failure for one agency does not stop the others.
func (s *Scheduler) RunKind(ctx context.Context, kind analysis.Kind) (int, error) {
	ids, err := s.agencies.ActiveAgencyIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list agencies: %w", err)
	}

	submitted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		out, err := s.submitter.SubmitForAgency(ctx, id, kind, map[string]any{"trigger": "schedule"})
		if err != nil {
			metrics.ScheduledSubmissions.WithLabelValues(kind.String(), "error").Inc()
			s.logger.Warn("scheduled submission failed",
				"kind", kind,
				"agency_id", id.String(),
				"error", err,
			)
			continue
		}
		metrics.ScheduledSubmissions.WithLabelValues(kind.String(), "submitted").Inc()
		s.logger.Debug("scheduled analysis submitted", "job_id", out.JobID.String(), "agency_id", id.String())
		submitted++
	}

	s.logger.Info("scheduled analyses submitted", "kind", kind, "agencies", len(ids), "submitted", submitted)
	return submitted, nil
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
