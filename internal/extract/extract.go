// Package extract turns page text into named field candidates.
//
// Extractors are pure: the same text always yields the same candidates and
// nothing outside the returned slice is touched.
package extract

import (
	"fmt"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

// Candidate is one extracted field value.
type Candidate struct {
	Name       string
	Value      string
	Confidence float64
	Box        *entity.BoundingBox // nil when the extractor cannot locate the value
}

// Extractor is the extraction capability used by the document processor.
type Extractor interface {
	Extract(text string) []Candidate
}

// New returns the extractor for engine. Unknown engines are an error.
func New(engine string) (Extractor, error) {
	switch engine {
	case common.EngineRuleBased, "":
		return NewRuleBased(), nil
	case common.EngineKeyValue:
		return NewKeyValue(), nil
	case common.EngineHybrid:
		return NewHybrid(), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown extraction engine %q", engine), common.ErrInvalidInput)
	}
}
