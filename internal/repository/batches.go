package repository

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

var batchColumns = []string{
	"id", "filename", "original_path", "stored_path", "content_hash", "size_bytes",
	"status", "created_at", "started_at", "processed_at", "processing_time", "error_message",
}

// BatchFilter narrows List results. Zero values mean "no filter".
type BatchFilter struct {
	Status *constants.BatchStatus
	Limit  int
	Offset int
}

type BatchRepository interface {
	Create(ctx context.Context, b *entity.Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Batch, error)
	ListHashes(ctx context.Context) ([]string, error)
	List(ctx context.Context, filter BatchFilter) ([]*entity.Batch, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time, elapsed time.Duration) error
	MarkError(ctx context.Context, id uuid.UUID, message string, processedAt time.Time) error
	SetStoredPath(ctx context.Context, id uuid.UUID, path string) error
	ResetForReprocess(ctx context.Context, id uuid.UUID) error
	ResetInterrupted(ctx context.Context, note string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type batchRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewBatchRepository(drv *entsql.Driver, logger *slog.Logger) BatchRepository {
	return &batchRepository{
		drv:    drv,
		logger: logger,
	}
}

func (r *batchRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *batchRepository) Create(ctx context.Context, b *entity.Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = constants.BatchStatusPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	query, args := r.builder().Insert(tableBatches).
		Columns(batchColumns...).
		Values(
			b.ID, b.Filename, b.OriginalPath, nullString(b.StoredPath), b.ContentHash, b.SizeBytes,
			string(b.Status), b.CreatedAt, nullTime(b.StartedAt), nullTime(b.ProcessedAt),
			nullFloat(b.ProcessingTime), nullString(b.ErrorMessage),
		).
		Query()
	if _, err := exec(ctx, r.drv, query, args); err != nil {
		r.logger.Error("failed to create batch", "filename", b.Filename, "content_hash", b.ContentHash, "error", err)
		return common.NewAppError("DB_ERROR", "create batch", errors.Join(common.ErrDatabase, err))
	}
	return nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Batch, error) {
	b := r.builder()
	query, args := b.Select(batchColumns...).
		From(b.Table(tableBatches)).
		Where(entsql.EQ("id", id)).
		Query()
	batches, err := r.queryBatches(ctx, r.drv, query, args)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, common.NotFoundErrorf("batch %s", id)
	}
	return batches[0], nil
}

func (r *batchRepository) ListHashes(ctx context.Context) ([]string, error) {
	b := r.builder()
	query, args := b.Select("content_hash").From(b.Table(tableBatches)).Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("list hashes: %w", err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *batchRepository) List(ctx context.Context, filter BatchFilter) ([]*entity.Batch, error) {
	b := r.builder()
	sel := b.Select(batchColumns...).
		From(b.Table(tableBatches)).
		OrderBy(entsql.Desc("created_at"))
	if filter.Status != nil {
		sel = sel.Where(entsql.EQ("status", string(*filter.Status)))
	}
	if filter.Limit > 0 {
		sel = sel.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// sqlite rejects OFFSET without LIMIT
			sel = sel.Limit(math.MaxInt32)
		}
		sel = sel.Offset(filter.Offset)
	}
	query, args := sel.Query()
	return r.queryBatches(ctx, r.drv, query, args)
}

// MarkProcessing moves a Pending batch to Processing. A batch in any other
// state yields ErrConflict so a stray duplicate task cannot re-run it.
func (r *batchRepository) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query, args := r.builder().Update(tableBatches).
		Set("status", string(constants.BatchStatusProcessing)).
		Set("started_at", startedAt).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.BatchStatusPending)),
		)).
		Query()
	n, err := exec(ctx, r.drv, query, args)
	if err != nil {
		r.logger.Error("failed to mark batch processing", "batch_id", id, "error", err)
		return fmt.Errorf("mark processing: %w", err)
	}
	if n == 0 {
		return r.missingOrConflict(ctx, id, "batch %s is not pending")
	}
	return nil
}

func (r *batchRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time, elapsed time.Duration) error {
	query, args := r.builder().Update(tableBatches).
		Set("status", string(constants.BatchStatusCompleted)).
		Set("processed_at", processedAt).
		Set("processing_time", elapsed.Seconds()).
		SetNull("error_message").
		Where(entsql.EQ("id", id)).
		Query()
	return r.updateOne(ctx, id, "mark completed", query, args)
}

func (r *batchRepository) MarkError(ctx context.Context, id uuid.UUID, message string, processedAt time.Time) error {
	query, args := r.builder().Update(tableBatches).
		Set("status", string(constants.BatchStatusError)).
		Set("error_message", common.TruncateMessage(message, constants.MaxErrorMessageLen)).
		Set("processed_at", processedAt).
		Where(entsql.EQ("id", id)).
		Query()
	return r.updateOne(ctx, id, "mark error", query, args)
}

func (r *batchRepository) SetStoredPath(ctx context.Context, id uuid.UUID, path string) error {
	query, args := r.builder().Update(tableBatches).
		Set("stored_path", path).
		Where(entsql.EQ("id", id)).
		Query()
	return r.updateOne(ctx, id, "set stored path", query, args)
}

// ResetForReprocess returns a non-Processing batch to Pending and clears its
// terminal fields. The status check and the update are one statement.
func (r *batchRepository) ResetForReprocess(ctx context.Context, id uuid.UUID) error {
	query, args := r.builder().Update(tableBatches).
		Set("status", string(constants.BatchStatusPending)).
		SetNull("started_at").
		SetNull("processed_at").
		SetNull("processing_time").
		SetNull("error_message").
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.NEQ("status", string(constants.BatchStatusProcessing)),
		)).
		Query()
	n, err := exec(ctx, r.drv, query, args)
	if err != nil {
		r.logger.Error("failed to reset batch", "batch_id", id, "error", err)
		return fmt.Errorf("reset batch: %w", err)
	}
	if n == 0 {
		return r.missingOrConflict(ctx, id, "batch %s is processing")
	}
	return nil
}

// ResetInterrupted returns every Processing batch to Pending. Used at startup,
// when no worker can own them any more.
func (r *batchRepository) ResetInterrupted(ctx context.Context, note string) (int64, error) {
	query, args := r.builder().Update(tableBatches).
		Set("status", string(constants.BatchStatusPending)).
		Set("error_message", note).
		SetNull("started_at").
		Where(entsql.EQ("status", string(constants.BatchStatusProcessing))).
		Query()
	n, err := exec(ctx, r.drv, query, args)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted: %w", err)
	}
	return n, nil
}

// Delete removes the batch and its subtree in dependency order inside one
// transaction. Processing batches are rejected.
func (r *batchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.drv, func(tx dialect.Tx) error {
		b := r.builder()
		query, args := b.Select("status").From(b.Table(tableBatches)).Where(entsql.EQ("id", id)).Query()
		rows := &entsql.Rows{}
		if err := tx.Query(ctx, query, args, rows); err != nil {
			return fmt.Errorf("load batch status: %w", err)
		}
		var status string
		found := rows.Next()
		if found {
			if err := rows.Scan(&status); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if !found {
			return common.NotFoundErrorf("batch %s", id)
		}
		if constants.BatchStatus(status) == constants.BatchStatusProcessing {
			return common.ConflictErrorf("batch %s is processing", id)
		}

		if err := deleteSubtree(ctx, tx, r.drv.Dialect(), id); err != nil {
			return err
		}
		query, args = b.Delete(tableBatches).Where(entsql.EQ("id", id)).Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		r.logger.Info("batch deleted", "batch_id", id)
		return nil
	})
}

func (r *batchRepository) updateOne(ctx context.Context, id uuid.UUID, op, query string, args []any) error {
	n, err := exec(ctx, r.drv, query, args)
	if err != nil {
		r.logger.Error("batch update failed", "op", op, "batch_id", id, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return common.NotFoundErrorf("batch %s", id)
	}
	return nil
}

func (r *batchRepository) missingOrConflict(ctx context.Context, id uuid.UUID, conflictFormat string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return common.ConflictErrorf(conflictFormat, id)
}

func (r *batchRepository) queryBatches(ctx context.Context, q dialect.ExecQuerier, query string, args []any) ([]*entity.Batch, error) {
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []*entity.Batch
	for rows.Next() {
		var (
			b           entity.Batch
			status      string
			storedPath  stdsql.NullString
			startedAt   stdsql.NullTime
			processedAt stdsql.NullTime
			procTime    stdsql.NullFloat64
			errMsg      stdsql.NullString
		)
		if err := rows.Scan(
			&b.ID, &b.Filename, &b.OriginalPath, &storedPath, &b.ContentHash, &b.SizeBytes,
			&status, &b.CreatedAt, &startedAt, &processedAt, &procTime, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Status = constants.BatchStatus(status)
		b.StoredPath = stringPtr(storedPath)
		b.StartedAt = timePtr(startedAt)
		b.ProcessedAt = timePtr(processedAt)
		b.ProcessingTime = floatPtr(procTime)
		b.ErrorMessage = stringPtr(errMsg)
		out = append(out, &b)
	}
	return out, rows.Err()
}
