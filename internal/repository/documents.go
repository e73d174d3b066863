package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

var (
	documentColumns = []string{"id", "batch_id", "doc_type", "confidence", "metadata", "created_at"}
	pageColumns     = []string{"id", "document_id", "page_number", "image_path", "original_text", "processed_text", "ocr_confidence"}
	fieldColumns    = []string{"id", "page_id", "name", "value", "confidence", "coordinates", "validation_status", "corrected_value"}
)

// DocumentRepository persists the Document → Page → Field aggregate of a batch.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *entity.Document) error
	UpdateDocumentType(ctx context.Context, id uuid.UUID, docType constants.DocType, confidence float64) error
	CreatePageWithFields(ctx context.Context, page *entity.Page) error
	DeleteByBatch(ctx context.Context, batchID uuid.UUID) error
	LoadAggregate(ctx context.Context, batchID uuid.UUID) (*entity.Document, error)
}

type documentRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewDocumentRepository(drv *entsql.Driver, logger *slog.Logger) DocumentRepository {
	return &documentRepository{
		drv:    drv,
		logger: logger,
	}
}

func (r *documentRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *documentRepository) CreateDocument(ctx context.Context, doc *entity.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.DocType == "" {
		doc.DocType = constants.DocTypeUnknown
	}
	var meta any
	if doc.Metadata != nil {
		meta = doc.Metadata
	}
	metaCol, err := jsonColumn(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query, args := r.builder().Insert(tableDocuments).
		Columns(documentColumns...).
		Values(doc.ID, doc.BatchID, string(doc.DocType), doc.Confidence, metaCol, doc.CreatedAt).
		Query()
	if _, err := exec(ctx, r.drv, query, args); err != nil {
		r.logger.Error("failed to create document", "batch_id", doc.BatchID, "error", err)
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *documentRepository) UpdateDocumentType(ctx context.Context, id uuid.UUID, docType constants.DocType, confidence float64) error {
	query, args := r.builder().Update(tableDocuments).
		Set("doc_type", string(docType)).
		Set("confidence", confidence).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := exec(ctx, r.drv, query, args)
	if err != nil {
		return fmt.Errorf("update document type: %w", err)
	}
	if n == 0 {
		return common.NotFoundErrorf("document %s", id)
	}
	return nil
}

// CreatePageWithFields writes one page and its fields in a single
// transaction, so a page is never visible without its fields.
func (r *documentRepository) CreatePageWithFields(ctx context.Context, page *entity.Page) error {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	return withTx(ctx, r.drv, func(tx dialect.Tx) error {
		b := r.builder()
		query, args := b.Insert(tablePages).
			Columns(pageColumns...).
			Values(page.ID, page.DocumentID, page.PageNumber, page.ImagePath,
				page.OriginalText, page.ProcessedText, page.OCRConfidence).
			Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to create page", "document_id", page.DocumentID, "page", page.PageNumber, "error", err)
			return fmt.Errorf("create page %d: %w", page.PageNumber, err)
		}
		if len(page.Fields) == 0 {
			return nil
		}

		ins := b.Insert(tableFields).Columns(fieldColumns...)
		for _, f := range page.Fields {
			if f.ID == uuid.Nil {
				f.ID = uuid.New()
			}
			f.PageID = page.ID
			if f.ValidationStatus == "" {
				f.ValidationStatus = constants.ValidationUnverified
			}
			var coords stdsql.NullString
			if f.Coordinates != nil {
				var err error
				if coords, err = jsonColumn(f.Coordinates); err != nil {
					return fmt.Errorf("marshal coordinates: %w", err)
				}
			}
			ins.Values(f.ID, f.PageID, f.Name, f.Value, f.Confidence, coords,
				string(f.ValidationStatus), nullString(f.CorrectedValue))
		}
		query, args = ins.Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to create fields", "page_id", page.ID, "count", len(page.Fields), "error", err)
			return fmt.Errorf("create fields for page %d: %w", page.PageNumber, err)
		}
		return nil
	})
}

// DeleteByBatch removes every document of the batch with its pages and fields.
func (r *documentRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) error {
	return withTx(ctx, r.drv, func(tx dialect.Tx) error {
		return deleteSubtree(ctx, tx, r.drv.Dialect(), batchID)
	})
}

// deleteSubtree deletes Field → Page → Document rows owned by batchID.
func deleteSubtree(ctx context.Context, tx dialect.ExecQuerier, d string, batchID uuid.UUID) error {
	b := entsql.Dialect(d)

	docIDs := b.Select("id").From(b.Table(tableDocuments)).Where(entsql.EQ("batch_id", batchID))
	pageIDs := b.Select("id").From(b.Table(tablePages)).Where(entsql.In("document_id", docIDs))

	query, args := b.Delete(tableFields).Where(entsql.In("page_id", pageIDs)).Query()
	if _, err := exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("delete fields: %w", err)
	}

	docIDs = b.Select("id").From(b.Table(tableDocuments)).Where(entsql.EQ("batch_id", batchID))
	query, args = b.Delete(tablePages).Where(entsql.In("document_id", docIDs)).Query()
	if _, err := exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}

	query, args = b.Delete(tableDocuments).Where(entsql.EQ("batch_id", batchID)).Query()
	if _, err := exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// LoadAggregate returns the batch's document with pages ordered by number
// and their fields. ErrNotFound when the batch has no document yet.
func (r *documentRepository) LoadAggregate(ctx context.Context, batchID uuid.UUID) (*entity.Document, error) {
	b := r.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.EQ("batch_id", batchID)).
		OrderBy("created_at").
		Limit(1).
		Query()
	doc, err := r.scanDocument(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, common.NotFoundErrorf("document for batch %s", batchID)
	}

	query, args = b.Select(pageColumns...).
		From(b.Table(tablePages)).
		Where(entsql.EQ("document_id", doc.ID)).
		OrderBy("page_number").
		Query()
	pages, err := r.scanPages(ctx, query, args)
	if err != nil {
		return nil, err
	}
	doc.Pages = pages
	if len(pages) == 0 {
		return doc, nil
	}

	byPage := make(map[uuid.UUID]*entity.Page, len(pages))
	ids := make([]any, 0, len(pages))
	for _, p := range pages {
		byPage[p.ID] = p
		ids = append(ids, p.ID)
	}
	query, args = b.Select(fieldColumns...).
		From(b.Table(tableFields)).
		Where(entsql.In("page_id", ids...)).
		OrderBy("name").
		Query()
	fields, err := r.scanFields(ctx, query, args)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if p, ok := byPage[f.PageID]; ok {
			p.Fields = append(p.Fields, f)
		}
	}
	return doc, nil
}

func (r *documentRepository) scanDocument(ctx context.Context, query string, args []any) (*entity.Document, error) {
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		doc     entity.Document
		docType string
		meta    stdsql.NullString
	)
	if err := rows.Scan(&doc.ID, &doc.BatchID, &docType, &doc.Confidence, &meta, &doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.DocType = constants.ParseDocType(docType)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &doc, rows.Err()
}

func (r *documentRepository) scanPages(ctx context.Context, query string, args []any) ([]*entity.Page, error) {
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	var out []*entity.Page
	for rows.Next() {
		var p entity.Page
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.ImagePath,
			&p.OriginalText, &p.ProcessedText, &p.OCRConfidence); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *documentRepository) scanFields(ctx context.Context, query string, args []any) ([]*entity.Field, error) {
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()
	var out []*entity.Field
	for rows.Next() {
		var (
			f         entity.Field
			coords    stdsql.NullString
			status    string
			corrected stdsql.NullString
		)
		if err := rows.Scan(&f.ID, &f.PageID, &f.Name, &f.Value, &f.Confidence,
			&coords, &status, &corrected); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		if coords.Valid && coords.String != "" {
			var bb entity.BoundingBox
			if err := json.Unmarshal([]byte(coords.String), &bb); err != nil {
				return nil, fmt.Errorf("decode coordinates: %w", err)
			}
			f.Coordinates = &bb
		}
		f.ValidationStatus = constants.ValidationStatus(status)
		f.CorrectedValue = stringPtr(corrected)
		out = append(out, &f)
	}
	return out, rows.Err()
}
