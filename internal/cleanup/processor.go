// Package cleanup removes object-store files left behind by deleted orders.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"assignly/internal/db"
	"assignly/internal/model"
	"assignly/internal/storage"
)

const DefaultBatchSize = 10

// Result summarises one job attempt.
type Result struct {
	JobID     string `json:"jobId"`
	OrderID   string `json:"orderId"`
	Deleted   int    `json:"deleted"`
	Failed    int    `json:"failed"`
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// Stats counts jobs by state. Abandoned jobs are pending with the retry cap reached.
type Stats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
	Total     int64 `json:"total"`
}

// Processor consumes pending cleanup jobs.
type Processor struct {
	db         *gorm.DB
	store      storage.ObjectStore
	maxRetries int
	now        func() time.Time
}

func NewProcessor(gdb *gorm.DB, store storage.ObjectStore, maxRetries int) *Processor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Processor{db: gdb, store: store, maxRetries: maxRetries, now: func() time.Time { return time.Now().UTC() }}
}

// ProcessPending attempts up to limit pending jobs below the retry cap, oldest first.
func (p *Processor) ProcessPending(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	var jobs []model.CleanupJob
	err := p.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", model.CleanupPending, p.maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("select cleanup jobs: %w", err)
	}

	results := make([]Result, 0, len(jobs))
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, p.process(ctx, &jobs[i]))
	}
	return results, nil
}

// ProcessJob attempts a single job. processed=false when the job is missing,
// already completed or past the retry cap.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) (Result, bool, error) {
	var job model.CleanupJob
	err := p.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if db.IsNotFound(err) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("load cleanup job: %w", err)
	}
	if job.Status != model.CleanupPending || job.RetryCount >= p.maxRetries {
		return Result{}, false, nil
	}
	return p.process(ctx, &job), true, nil
}

// Stats counts jobs per state.
func (p *Processor) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	q := p.db.WithContext(ctx).Model(&model.CleanupJob{})
	if err := q.Session(&gorm.Session{}).Where("status = ? AND retry_count < ?", model.CleanupPending, p.maxRetries).Count(&st.Pending).Error; err != nil {
		return Stats{}, fmt.Errorf("count pending jobs: %w", err)
	}
	if err := q.Session(&gorm.Session{}).Where("status = ? AND retry_count >= ?", model.CleanupPending, p.maxRetries).Count(&st.Abandoned).Error; err != nil {
		return Stats{}, fmt.Errorf("count abandoned jobs: %w", err)
	}
	if err := q.Session(&gorm.Session{}).Where("status = ?", model.CleanupCompleted).Count(&st.Completed).Error; err != nil {
		return Stats{}, fmt.Errorf("count completed jobs: %w", err)
	}
	st.Total = st.Pending + st.Abandoned + st.Completed
	return st, nil
}

func (p *Processor) process(ctx context.Context, job *model.CleanupJob) Result {
	res := Result{JobID: job.ID, OrderID: job.OrderID}
	log := slog.With("job_id", job.ID, "order_id", job.OrderID, "folder", job.Folder)

	prefix := storage.FolderPrefix(job.Folder)
	if prefix == "" {
		log.Warn("cleanup job has no folder; marking completed")
		p.finish(ctx, job, &res, nil)
		return res
	}
	if !storage.WithinFolder(job.Folder, storage.StudentFolder(job.StudentID)) {
		p.finish(ctx, job, &res, fmt.Errorf("folder %q is outside %s", job.Folder, storage.StudentFolder(job.StudentID)))
		return res
	}

	// Recursive listing also covers the legacy duplicated "folder/folder/" layout.
	keys, err := p.store.List(ctx, prefix)
	if err != nil {
		p.finish(ctx, job, &res, err)
		return res
	}

	var firstErr error
	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Deleted++
	}
	if res.Failed == 0 {
		// The folder marker may not exist; failure here is irrelevant.
		_ = p.store.Delete(ctx, strings.TrimSuffix(prefix, "/"))
	}

	var outcome error
	if firstErr != nil {
		outcome = fmt.Errorf("%d of %d deletions failed: %w", res.Failed, len(keys), firstErr)
	}
	p.finish(ctx, job, &res, outcome)
	return res
}

func (p *Processor) finish(ctx context.Context, job *model.CleanupJob, res *Result, outcome error) {
	now := p.now()
	log := slog.With("job_id", job.ID, "order_id", job.OrderID)

	if outcome == nil {
		err := p.db.WithContext(ctx).Model(&model.CleanupJob{}).
			Where("id = ? AND status = ?", job.ID, model.CleanupPending).
			Updates(map[string]any{
				"status":       model.CleanupCompleted,
				"completed_at": now,
				"last_attempt": now,
				"last_error":   "",
			}).Error
		if err != nil {
			log.Error("mark cleanup job completed", "err", err)
			res.Error = "failed to record completion"
			return
		}
		res.Completed = true
		log.Info("cleanup job completed", "deleted", res.Deleted)
		return
	}

	msg := outcome.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	res.Error = msg
	err := p.db.WithContext(ctx).Model(&model.CleanupJob{}).
		Where("id = ? AND status = ?", job.ID, model.CleanupPending).
		Updates(map[string]any{
			"retry_count":  gorm.Expr("retry_count + 1"),
			"last_attempt": now,
			"last_error":   msg,
		}).Error
	if err != nil {
		log.Error("record cleanup job failure", "err", err)
		return
	}
	if job.RetryCount+1 >= p.maxRetries {
		// No dead-letter path exists; the job simply stops being selected.
		log.Warn("cleanup job reached retry cap", "retries", job.RetryCount+1, "err", msg)
		return
	}
	log.Warn("cleanup job attempt failed", "retries", job.RetryCount+1, "err", msg)
}
