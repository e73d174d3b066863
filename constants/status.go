package constants

// BatchStatus is the canonical lifecycle state for rows in batches.
type BatchStatus string

// Stable values (store these exact strings in DB).
const (
	BatchStatusPending    BatchStatus = "pending"    // registered, waiting for a worker
	BatchStatusProcessing BatchStatus = "processing" // owned by exactly one worker
	BatchStatusCompleted  BatchStatus = "completed"  // terminal, file archived
	BatchStatusError      BatchStatus = "error"      // terminal, file moved to error folder
)

// IsTerminal reports whether s is Completed or Error.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusError
}

// ValidationStatus is the manual review state of an extracted field.
type ValidationStatus string

const (
	ValidationUnverified ValidationStatus = "unverified"
	ValidationVerified   ValidationStatus = "verified"
	ValidationRejected   ValidationStatus = "rejected"
)
