package repository

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableBatches   = "batches"
	tableDocuments = "documents"
	tablePages     = "pages"
	tableFields    = "fields"
)

var (
	// BatchesColumns holds the columns for the "batches" table.
	BatchesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "filename", Type: field.TypeString},
		{Name: "original_path", Type: field.TypeString, Size: 2048},
		{Name: "stored_path", Type: field.TypeString, Nullable: true, Size: 2048},
		{Name: "content_hash", Type: field.TypeString, Unique: true, Size: 64},
		{Name: "size_bytes", Type: field.TypeInt64},
		{Name: "status", Type: field.TypeString, Size: 16, Default: "pending"},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "started_at", Type: field.TypeTime, Nullable: true},
		{Name: "processed_at", Type: field.TypeTime, Nullable: true},
		{Name: "processing_time", Type: field.TypeFloat64, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true, Size: 2147483647},
	}
	// BatchesTable holds the schema information for the "batches" table.
	BatchesTable = &schema.Table{
		Name:       tableBatches,
		Columns:    BatchesColumns,
		PrimaryKey: []*schema.Column{BatchesColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "batch_status",
				Unique:  false,
				Columns: []*schema.Column{BatchesColumns[6]},
			},
		},
	}
	// DocumentsColumns holds the columns for the "documents" table.
	DocumentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "doc_type", Type: field.TypeString, Size: 32, Default: "unknown"},
		{Name: "confidence", Type: field.TypeFloat64, Default: 0},
		{Name: "metadata", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "batch_id", Type: field.TypeUUID},
	}
	// DocumentsTable holds the schema information for the "documents" table.
	DocumentsTable = &schema.Table{
		Name:       tableDocuments,
		Columns:    DocumentsColumns,
		PrimaryKey: []*schema.Column{DocumentsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "documents_batches_documents",
				Columns:    []*schema.Column{DocumentsColumns[5]},
				RefColumns: []*schema.Column{BatchesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "document_batch_id",
				Unique:  false,
				Columns: []*schema.Column{DocumentsColumns[5]},
			},
		},
	}
	// PagesColumns holds the columns for the "pages" table.
	PagesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "page_number", Type: field.TypeInt},
		{Name: "image_path", Type: field.TypeString, Size: 2048},
		{Name: "original_text", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "processed_text", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "ocr_confidence", Type: field.TypeFloat64, Default: 0},
		{Name: "document_id", Type: field.TypeUUID},
	}
	// PagesTable holds the schema information for the "pages" table.
	PagesTable = &schema.Table{
		Name:       tablePages,
		Columns:    PagesColumns,
		PrimaryKey: []*schema.Column{PagesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "pages_documents_pages",
				Columns:    []*schema.Column{PagesColumns[6]},
				RefColumns: []*schema.Column{DocumentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "page_document_id_page_number",
				Unique:  true,
				Columns: []*schema.Column{PagesColumns[6], PagesColumns[1]},
			},
		},
	}
	// FieldsColumns holds the columns for the "fields" table.
	FieldsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString, Size: 128},
		{Name: "value", Type: field.TypeString, Size: 2147483647},
		{Name: "confidence", Type: field.TypeFloat64, Default: 0},
		{Name: "coordinates", Type: field.TypeJSON, Nullable: true},
		{Name: "validation_status", Type: field.TypeString, Size: 16, Default: "unverified"},
		{Name: "corrected_value", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "page_id", Type: field.TypeUUID},
	}
	// FieldsTable holds the schema information for the "fields" table.
	FieldsTable = &schema.Table{
		Name:       tableFields,
		Columns:    FieldsColumns,
		PrimaryKey: []*schema.Column{FieldsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "fields_pages_fields",
				Columns:    []*schema.Column{FieldsColumns[7]},
				RefColumns: []*schema.Column{PagesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "field_page_id",
				Unique:  false,
				Columns: []*schema.Column{FieldsColumns[7]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		BatchesTable,
		DocumentsTable,
		PagesTable,
		FieldsTable,
	}
)

func init() {
	DocumentsTable.ForeignKeys[0].RefTable = BatchesTable
	PagesTable.ForeignKeys[0].RefTable = DocumentsTable
	FieldsTable.ForeignKeys[0].RefTable = PagesTable
}

// Migrate creates or updates the batch aggregate tables.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	logger.Info("running schema migration")
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema migration complete")
	return nil
}
