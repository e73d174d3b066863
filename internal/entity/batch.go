package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
)

// Batch represents one ingested source file and its lifecycle state.
type Batch struct {
	ID             uuid.UUID             `json:"id"`
	Filename       string                `json:"filename"`
	OriginalPath   string                `json:"original_path"`
	StoredPath     *string               `json:"stored_path,omitempty"`
	ContentHash    string                `json:"content_hash"`
	SizeBytes      int64                 `json:"size_bytes"`
	Status         constants.BatchStatus `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	ProcessedAt    *time.Time            `json:"processed_at,omitempty"`
	ProcessingTime *float64              `json:"processing_time,omitempty"` // seconds
	ErrorMessage   *string               `json:"error_message,omitempty"`
}

// SourcePath is where the file currently lives: the relocated path once a
// terminal state moved it, otherwise the path it was picked up from.
func (b *Batch) SourcePath() string {
	if b.StoredPath != nil && *b.StoredPath != "" {
		return *b.StoredPath
	}
	return b.OriginalPath
}
