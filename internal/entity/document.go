package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
)

// Document is the parsed content-bearing unit of a batch.
type Document struct {
	ID         uuid.UUID         `json:"id"`
	BatchID    uuid.UUID         `json:"batch_id"`
	DocType    constants.DocType `json:"doc_type"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Pages      []*Page           `json:"pages,omitempty"`
}

// Page is one rendered page of a document, 1-indexed.
type Page struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	PageNumber    int       `json:"page_number"`
	ImagePath     string    `json:"image_path"`
	OriginalText  string    `json:"original_text"`
	ProcessedText string    `json:"processed_text"`
	OCRConfidence float64   `json:"ocr_confidence"`
	Fields        []*Field  `json:"fields,omitempty"`
}

// Field is one extracted data point on a page.
type Field struct {
	ID               uuid.UUID                  `json:"id"`
	PageID           uuid.UUID                  `json:"page_id"`
	Name             string                     `json:"name"`
	Value            string                     `json:"value"`
	Confidence       float64                    `json:"confidence"`
	Coordinates      *BoundingBox               `json:"coordinates,omitempty"`
	ValidationStatus constants.ValidationStatus `json:"validation_status"`
	CorrectedValue   *string                    `json:"corrected_value,omitempty"`
}

// BoundingBox locates a field on its page image, in pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// GetField returns the first field named name across all pages.
func (d *Document) GetField(name string) *Field {
	for _, p := range d.Pages {
		for _, f := range p.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}
