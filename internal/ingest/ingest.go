package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/internal/entity"
)

// Outcome is what intake decided for one path.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomePatternMismatch
	OutcomeTooLarge
	OutcomeDuplicate
	OutcomeInFlight
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomePatternMismatch:
		return "pattern_mismatch"
	case OutcomeTooLarge:
		return "too_large"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeInFlight:
		return "in_flight"
	default:
		return "failed"
	}
}

// Candidate is a file that passed validation and may become a batch.
type Candidate struct {
	Path     string // absolute
	Filename string
	Size     int64
	ModTime  time.Time
	Hash     string // hex sha256
}

// Result is the per-path intake outcome.
type Result struct {
	Path    string
	Outcome Outcome
	BatchID uuid.UUID
	Hash    string
	Err     error
}

// ScanStats summarizes a directory scan.
type ScanStats struct {
	Scanned    uint32
	Created    uint32
	Duplicates uint32
	Rejected   uint32
	Failed     uint32
}

func (s *ScanStats) add(r Result) {
	s.Scanned++
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomePatternMismatch, OutcomeTooLarge, OutcomeInFlight:
		s.Rejected++
	default:
		s.Failed++
	}
}

// BatchCreator persists new batches.
type BatchCreator interface {
	Create(ctx context.Context, b *entity.Batch) error
}

// Submitter hands a batch to the work dispatcher. It must not block.
type Submitter interface {
	Submit(id uuid.UUID) bool
}

// Observer receives one call per intake decision.
type Observer interface {
	ObserveIntake(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveIntake(string) {}
