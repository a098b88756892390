package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

const analysisJobColumns = `
	id, tenant_id, kind, input, output, status, confidence_score, error_message,
	requested_by, attempt_count, max_attempts,
	created_at, updated_at, started_at, completed_at, failed_at`

var analysisJobSorts = map[string]string{
	"created_at":    "created_at",
	"kind":          "kind",
	"status":        "status",
	"attempt_count": "attempt_count",
}

// AnalysisJobRepository implements analysis.Repository using PostgreSQL.
type AnalysisJobRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewAnalysisJobRepository creates a new AnalysisJobRepository.
func NewAnalysisJobRepository(db *DB, filter *tenancy.Filter) *AnalysisJobRepository {
	return &AnalysisJobRepository{db: db, filter: filter}
}

var _ analysis.Repository = (*AnalysisJobRepository)(nil)

// Create persists a new job, assigning it to the caller's agency when unset.
func (r *AnalysisJobRepository) Create(ctx context.Context, job *analysis.Job) error {
	if err := r.filter.AssignOnCreate(ctx, job); err != nil {
		return err
	}

	s := job.State()
	input, err := toJSONB(s.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	if input == nil {
		input = []byte("{}")
	}
	output, err := toJSONB(s.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := `
		INSERT INTO analysis_jobs (` + analysisJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.AgencyID, string(s.Kind), input, output, string(s.Status), s.Confidence,
		nullString(s.ErrorMessage), nullIDValue(s.RequestedBy), s.AttemptCount, s.MaxAttempts,
		s.CreatedAt, s.UpdatedAt, nullTime(s.StartedAt), nullTime(s.CompletedAt), nullTime(s.FailedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return shared.NewDomainError("AGENCY_NOT_FOUND", "agency does not exist", shared.ErrValidation)
		}
		return fmt.Errorf("failed to create analysis job: %w", err)
	}
	return nil
}

// GetByID loads a job visible to the caller.
func (r *AnalysisJobRepository) GetByID(ctx context.Context, id shared.ID) (*analysis.Job, error) {
	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, jobTenantColumn)

	stmt, args := q.build("SELECT "+analysisJobColumns+" FROM analysis_jobs", nil, "")
	return r.scanOne(r.db.QueryRowContext(ctx, stmt, args...))
}

// Update saves a job after checking the caller may write to its stored owner.
func (r *AnalysisJobRepository) Update(ctx context.Context, job *analysis.Job) error {
	stored, err := r.db.storedOwner(ctx, "analysis_jobs", jobTenantColumn, analysis.ResourceType, job.ID())
	if err != nil {
		return err
	}
	if err := r.filter.GuardUpdate(ctx, stored); err != nil {
		return err
	}
	return r.save(ctx, r.db, job)
}

func (r *AnalysisJobRepository) save(ctx context.Context, ex execer, job *analysis.Job) error {
	s := job.State()
	output, err := toJSONB(s.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	q := newQuery()
	q.Where("id = ?", s.ID)
	r.filter.Apply(ctx, q, jobTenantColumn)

	stmt, args := q.build(`
		UPDATE analysis_jobs SET
			output = ?, status = ?, confidence_score = ?, error_message = ?,
			attempt_count = ?, max_attempts = ?, updated_at = ?, started_at = ?, completed_at = ?, failed_at = ?`,
		[]any{
			output, string(s.Status), s.Confidence, nullString(s.ErrorMessage),
			s.AttemptCount, s.MaxAttempts, s.UpdatedAt, nullTime(s.StartedAt), nullTime(s.CompletedAt), nullTime(s.FailedAt),
		}, "")

	res, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update analysis job: %w", err)
	}
	return affectedOrNotFound(res)
}

// BeginAttempt locks the job row so concurrent deliveries of the same task
// cannot both move it to processing.
func (r *AnalysisJobRepository) BeginAttempt(ctx context.Context, id shared.ID, now time.Time) (*analysis.Job, error) {
	var job *analysis.Job

	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		q := newQuery()
		q.Where("id = ?", id)
		r.filter.Apply(ctx, q, jobTenantColumn)

		stmt, args := q.build("SELECT "+analysisJobColumns+" FROM analysis_jobs", nil, "FOR UPDATE")
		locked, err := r.scanOne(tx.QueryRowContext(ctx, stmt, args...))
		if err != nil {
			return err
		}
		if err := locked.BeginAttempt(now); err != nil {
			return err
		}
		if err := r.save(ctx, tx, locked); err != nil {
			return err
		}
		job = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns a page of jobs visible to the caller.
func (r *AnalysisJobRepository) List(ctx context.Context, filter analysis.ListFilter, page pagination.Pagination) (pagination.Result[*analysis.Job], error) {
	q := newQuery()
	r.filter.Apply(ctx, q, jobTenantColumn)
	q.whereIf(len(filter.Kinds) > 0, "kind = ANY(?)", pq.Array(stringsOf(filter.Kinds)))
	q.whereIf(len(filter.Statuses) > 0, "status = ANY(?)", pq.Array(stringsOf(filter.Statuses)))

	var total int64
	countStmt, countArgs := q.build("SELECT COUNT(*) FROM analysis_jobs", nil, "")
	if err := r.db.QueryRowContext(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return pagination.Result[*analysis.Job]{}, fmt.Errorf("failed to count analysis jobs: %w", err)
	}

	order := pagination.OrderBy(filter.Sort, analysisJobSorts, "created_at DESC")
	stmt, args := q.build("SELECT "+analysisJobColumns+" FROM analysis_jobs", nil,
		"ORDER BY "+order+" LIMIT ? OFFSET ?", page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return pagination.Result[*analysis.Job]{}, fmt.Errorf("failed to list analysis jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := r.scanMany(rows)
	if err != nil {
		return pagination.Result[*analysis.Job]{}, err
	}
	return pagination.NewResult(jobs, total, page), nil
}

// OwnerOf returns the stored owner of a job without tenancy scope.
func (r *AnalysisJobRepository) OwnerOf(ctx context.Context, id shared.ID) (shared.ID, error) {
	stored, err := r.db.storedOwner(ctx, "analysis_jobs", jobTenantColumn, analysis.ResourceType, id)
	if err != nil {
		return shared.ID{}, err
	}
	return stored.agencyID, nil
}

// FindStuck lists processing jobs across all agencies whose attempt started
// before the cutoff. Only ids and owners are returned.
func (r *AnalysisJobRepository) FindStuck(ctx context.Context, startedBefore time.Time, limit int) ([]analysis.Ownership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id FROM analysis_jobs
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at
		LIMIT $3
	`, string(analysis.StatusProcessing), startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck analysis jobs: %w", err)
	}
	defer rows.Close()

	var out []analysis.Ownership
	for rows.Next() {
		var o analysis.Ownership
		if err := rows.Scan(&o.JobID, &o.AgencyID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AnalysisJobRepository) scanOne(row *sql.Row) (*analysis.Job, error) {
	job, err := r.scan(row)
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *AnalysisJobRepository) scanMany(rows *sql.Rows) ([]*analysis.Job, error) {
	var jobs []*analysis.Job
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *AnalysisJobRepository) scan(row rowScanner) (*analysis.Job, error) {
	var (
		s            analysis.JobState
		kind, status string
		inputJSON    []byte
		outputJSON   []byte
		errorMessage sql.NullString
		requestedBy  sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		failedAt     sql.NullTime
	)

	err := row.Scan(
		&s.ID, &s.AgencyID, &kind, &inputJSON, &outputJSON, &status, &s.Confidence, &errorMessage,
		&requestedBy, &s.AttemptCount, &s.MaxAttempts,
		&s.CreatedAt, &s.UpdatedAt, &startedAt, &completedAt, &failedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Kind = analysis.Kind(kind)
	s.Status = analysis.Status(status)
	s.ErrorMessage = nullStringValue(errorMessage)
	s.StartedAt = nullTimeValue(startedAt)
	s.CompletedAt = nullTimeValue(completedAt)
	s.FailedAt = nullTimeValue(failedAt)
	if requestedBy.Valid {
		if id, err := shared.IDFromString(requestedBy.String); err == nil {
			s.RequestedBy = id
		}
	}
	if err := fromJSONB(inputJSON, &s.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if err := fromJSONB(outputJSON, &s.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return analysis.Reconstitute(s), nil
}
