package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/dedup"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/pipeline"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// InterruptedNote is stored on batches reset at startup.
const InterruptedNote = "interrupted: processing did not finish before shutdown"

// Submitter hands a batch to the worker pool.
type Submitter interface {
	Submit(id uuid.UUID) bool
}

// Service is the trigger surface for batches: manual submission,
// reprocessing, deletion and lookups.
type Service struct {
	cfg       *common.Config
	batches   repository.BatchRepository
	documents repository.DocumentRepository
	index     *dedup.Index
	submitter Submitter
	logger    *slog.Logger
}

// NewService creates a new batch service.
func NewService(
	cfg *common.Config,
	batches repository.BatchRepository,
	documents repository.DocumentRepository,
	index *dedup.Index,
	submitter Submitter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		batches:   batches,
		documents: documents,
		index:     index,
		submitter: submitter,
		logger:    logger,
	}
}

// ListRequest represents batch listing parameters.
type ListRequest struct {
	Status string
	Limit  int
	Offset int
}

func parseBatchID(batchID string) (uuid.UUID, error) {
	batchID = strings.TrimSpace(batchID)
	validator := common.NewValidator()
	validator.Field("batch_id", batchID, common.Required, common.UUID)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(batchID), nil
}

// Get returns one batch.
func (s *Service) Get(ctx context.Context, batchID string) (*entity.Batch, error) {
	id, err := parseBatchID(batchID)
	if err != nil {
		return nil, err
	}
	return s.batches.GetByID(ctx, id)
}

// GetDocument returns the extracted aggregate of a batch.
func (s *Service) GetDocument(ctx context.Context, batchID string) (*entity.Document, error) {
	id, err := parseBatchID(batchID)
	if err != nil {
		return nil, err
	}
	return s.documents.LoadAggregate(ctx, id)
}

// List returns batches newest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*entity.Batch, error) {
	validator := common.NewValidator()
	if req.Status != "" {
		validator.Field("status", req.Status, common.OneOf(
			string(constants.BatchStatusPending),
			string(constants.BatchStatusProcessing),
			string(constants.BatchStatusCompleted),
			string(constants.BatchStatusError),
		))
	}
	validator.Field("limit", req.Limit, common.MinInt(0))
	validator.Field("offset", req.Offset, common.MinInt(0))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	filter := repository.BatchFilter{Limit: req.Limit, Offset: req.Offset}
	if req.Status != "" {
		st := constants.BatchStatus(req.Status)
		filter.Status = &st
	}
	return s.batches.List(ctx, filter)
}

// SubmitForProcessing queues a Pending batch. Any other status is a conflict.
func (s *Service) SubmitForProcessing(ctx context.Context, batchID string) error {
	id, err := parseBatchID(batchID)
	if err != nil {
		return err
	}
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != constants.BatchStatusPending {
		return common.ConflictErrorf("batch %s is %s, not pending", id, b.Status)
	}
	return s.submit(id)
}

// Reprocess returns a Completed or Error batch to Pending, drops its previous
// results and queues it. Processing batches are rejected.
func (s *Service) Reprocess(ctx context.Context, batchID string) error {
	id, err := parseBatchID(batchID)
	if err != nil {
		return err
	}
	if err := s.batches.ResetForReprocess(ctx, id); err != nil {
		if !common.IsNotFound(err) && !common.IsConflict(err) {
			s.logger.Error("failed to reset batch", "batch_id", id, "error", err)
		}
		return err
	}
	if err := s.documents.DeleteByBatch(ctx, id); err != nil {
		s.logger.Error("failed to clear previous results", "batch_id", id, "error", err)
		return fmt.Errorf("clear previous results: %w", err)
	}
	s.removePageImages(id)

	s.logger.Info("batch reset for reprocessing", "batch_id", id)
	return s.submit(id)
}

// Delete removes a batch with its results and page images. The source file
// is left where it is. The content hash is released so the same bytes can be
// ingested again.
func (s *Service) Delete(ctx context.Context, batchID string) error {
	id, err := parseBatchID(batchID)
	if err != nil {
		return err
	}
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.batches.Delete(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		s.index.Forget(b.ContentHash)
	}
	s.removePageImages(id)
	return nil
}

// RecoverInterrupted resets batches a crash left in Processing and, when
// auto-processing is on, queues every Pending batch. It returns how many
// batches were queued.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := s.batches.ResetInterrupted(ctx, InterruptedNote)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("reset interrupted batches", "count", n)
	}
	if !s.cfg.Processing.AutoStart {
		return 0, nil
	}

	pending := constants.BatchStatusPending
	batches, err := s.batches.List(ctx, repository.BatchFilter{Status: &pending})
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	queued := 0
	// List is newest first; queue oldest first
	for i := len(batches) - 1; i >= 0; i-- {
		if s.submitter.Submit(batches[i].ID) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Info("queued pending batches", "count", queued)
	}
	return queued, nil
}

func (s *Service) submit(id uuid.UUID) error {
	if !s.submitter.Submit(id) {
		return common.ConflictErrorf("batch %s not queued: dispatcher stopped", id)
	}
	s.logger.Info("batch submitted", "batch_id", id)
	return nil
}

func (s *Service) removePageImages(id uuid.UUID) {
	dir := pipeline.PageDir(s.cfg.Folders.PageImages, id)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove page images", "batch_id", id, "dir", dir, "error", err)
	}
}
