package memory

import "fmt"

// ProviderError means an external AI provider (embedding, extraction,
// enrichment) was unreachable or unauthorized. It aborts the current
// operation only, with no partial writes.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IndexQueryError means a nearest-neighbor lookup failed. Callers fail
// open: an index error is treated as "no duplicate candidates" so a
// capture is never blocked by the index.
type IndexQueryError struct {
	Tier string
	Err  error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("index query (%s tier): %v", e.Tier, e.Err)
}

func (e *IndexQueryError) Unwrap() error { return e.Err }

// PersistenceError means a store write failed mid-operation. The prior
// state is left intact.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BackgroundTaskError wraps a failure inside the enrichment queue. It is
// logged and isolated per task, never surfaced to the original caller.
type BackgroundTaskError struct {
	Task     string
	RecordID string
	Err      error
}

func (e *BackgroundTaskError) Error() string {
	return fmt.Sprintf("background task %s (record %s): %v", e.Task, e.RecordID, e.Err)
}

func (e *BackgroundTaskError) Unwrap() error { return e.Err }
