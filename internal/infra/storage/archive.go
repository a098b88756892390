// Package storage archives completed analysis results to object storage.
//
// Each result is written once as gzip compressed JSON under
// "<prefix>/<agency_id>/<job_id>.json.gz", so a bucket policy can grant an
// agency access to its own folder only.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"

	// maxDocumentSize bounds how much a decoded archive may expand to.
	maxDocumentSize = 32 << 20
)

// ErrObjectNotFound is returned by stores when a key does not exist.
var ErrObjectNotFound = fmt.Errorf("archived result: %w", shared.ErrNotFound)

// ObjectStore is the subset of an object storage client the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType, contentEncoding string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Backend() string
}

// ResultDocument is the archived form of a completed job.
type ResultDocument struct {
	JobID        shared.ID       `json:"job_id"`
	AgencyID     shared.ID       `json:"agency_id"`
	Kind         analysis.Kind   `json:"kind"`
	Status       analysis.Status `json:"status"`
	Confidence   float64         `json:"confidence"`
	Input        map[string]any  `json:"input"`
	Output       map[string]any  `json:"output"`
	AttemptCount int             `json:"attempt_count"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ArchivedAt   time.Time       `json:"archived_at"`
}

// Archive writes result documents to an ObjectStore.
type Archive struct {
	store  ObjectStore
	prefix string
	now    func() time.Time
	logger *logger.Logger
}

// NewArchive creates an Archive over store.
func NewArchive(store ObjectStore, prefix string, log *logger.Logger) *Archive {
	return &Archive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: log.With("component", "result_archive", "backend", store.Backend()),
	}
}

// New builds the archive selected by cfg. The "none" backend yields a nil
// archive and no error.
func New(ctx context.Context, cfg config.ArchiveConfig, log *logger.Logger) (*Archive, error) {
	var store ObjectStore
	var err error
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "s3":
		store, err = NewS3Store(ctx, cfg)
	case "minio":
		store, err = NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewArchive(store, cfg.Prefix, log), nil
}

// ObjectKey returns the key of a job's archived result.
func ObjectKey(prefix string, agencyID, jobID shared.ID) string {
	return path.Join(strings.Trim(prefix, "/"), agencyID.String(), jobID.String()+".json.gz")
}

// ArchiveResult stores the result of a completed job and returns its key.
func (a *Archive) ArchiveResult(ctx context.Context, job *analysis.Job) (string, error) {
	if !job.IsCompleted() {
		return "", fmt.Errorf("%w: job %s is %s, only completed jobs are archived", shared.ErrValidation, job.ID(), job.Status())
	}

	body, err := EncodeResult(job, a.now().UTC())
	if err != nil {
		return "", err
	}
	key := ObjectKey(a.prefix, job.AgencyID(), job.ID())
	if err := a.store.Put(ctx, key, body, contentType, contentEncoding); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("archived analysis result", "key", key, "bytes", len(body))
	return key, nil
}

// LoadResult reads back the archived result of job.
func (a *Archive) LoadResult(ctx context.Context, job *analysis.Job) (*ResultDocument, error) {
	key := ObjectKey(a.prefix, job.AgencyID(), job.ID())
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	doc, err := DecodeResult(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if !doc.AgencyID.Equals(job.AgencyID()) || !doc.JobID.Equals(job.ID()) {
		return nil, fmt.Errorf("archived document %s does not belong to job %s", key, job.ID())
	}
	return doc, nil
}

// EncodeResult renders job as gzip compressed JSON.
func EncodeResult(job *analysis.Job, archivedAt time.Time) ([]byte, error) {
	doc := ResultDocument{
		JobID:        job.ID(),
		AgencyID:     job.AgencyID(),
		Kind:         job.Kind(),
		Status:       job.Status(),
		Confidence:   job.Confidence(),
		Input:        job.Input(),
		Output:       job.Output(),
		AttemptCount: job.AttemptCount(),
		CreatedAt:    job.CreatedAt(),
		CompletedAt:  job.CompletedAt(),
		ArchivedAt:   archivedAt,
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode result document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress result document: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResult reads a document written by EncodeResult.
func DecodeResult(r io.Reader) (*ResultDocument, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	limited := io.LimitReader(zr, maxDocumentSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentSize {
		return nil, errors.New("archived document exceeds size limit")
	}

	var doc ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal result document: %w", err)
	}
	return &doc, nil
}
