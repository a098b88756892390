package analyzer

import (
	"context"
	"time"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/logger"
)

// Engine loads a job's portfolio, runs its analyzer and attaches an
// optional narrative.
type Engine struct {
	registry *Registry
	source   DataSource
	narrator *Narrator
	logger   *logger.Logger
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(registry *Registry, source DataSource, log *logger.Logger) *Engine {
	return &Engine{
		registry: registry,
		source:   source,
		logger:   log.With("component", "analyzer"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNarrator enables LLM narratives.
func (e *Engine) SetNarrator(n *Narrator) {
	e.narrator = n
}

// Supports reports whether an analyzer is registered for kind.
func (e *Engine) Supports(kind analysis.Kind) bool {
	_, err := e.registry.Get(kind)
	return err == nil
}

// Run computes the result for job. ctx must be scoped to the job's agency.
func (e *Engine) Run(ctx context.Context, job *analysis.Job) (*Result, error) {
	a, err := e.registry.Get(job.Kind())
	if err != nil {
		return nil, err
	}

	now := e.now()
	snap, err := LoadSnapshot(ctx, e.source, job.AgencyID(), now)
	if err != nil {
		return nil, err
	}

	res, err := a.Analyze(ctx, Input{
		JobID:    job.ID(),
		AgencyID: job.AgencyID(),
		Kind:     job.Kind(),
		Params:   job.Input(),
		Data:     snap,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}
	if res.Output == nil {
		res.Output = map[string]any{}
	}
	if res.Summary != "" {
		res.Output["summary"] = res.Summary
	}

	if e.narrator != nil {
		narrative, err := e.narrator.Narrate(ctx, job.Kind(), res, job.Input())
		if err != nil {
			e.logger.Warn("narrative skipped", "job_id", job.ID().String(), "kind", string(job.Kind()), "error", err)
		} else if narrative != "" {
			res.Output["narrative"] = narrative
			res.Output["narrative_model"] = e.narrator.Model()
		}
	}
	return res, nil
}
