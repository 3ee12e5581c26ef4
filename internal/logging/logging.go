package logging

import (
	"time"
)

type LogEntry struct {
	Timestamp time.Time
	Message   string
	File      string
	Labels    map[string]string
}

// BatchSink is the destination-specific strategy driven by the pipeline.
// ShouldLog is consulted before an entry enters the pipeline; entries failing
// it are dropped without being batched. Log receives complete batches and may
// be invoked concurrently, up to the pipeline's parallelism limit.
type BatchSink interface {
	ShouldLog(entry LogEntry) bool
	Log(batch []LogEntry) error
}

// OfferResult is the outcome of offering an entry to a pipeline.
type OfferResult int

const (
	// OfferAccepted means the entry was materialized and taken by the pipeline.
	OfferAccepted OfferResult = iota
	// OfferPostponed means the pipeline is running but currently saturated;
	// the entry was not consumed and may be offered again.
	OfferPostponed
	// OfferDeclined means the pipeline is no longer accepting entries;
	// the entry was not consumed.
	OfferDeclined
)

func (r OfferResult) String() string {
	switch r {
	case OfferAccepted:
		return "accepted"
	case OfferPostponed:
		return "postponed"
	case OfferDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// EntryPipeline is what producers see of the log pipeline.
type EntryPipeline interface {
	// Submit hands an entry to the pipeline, blocking if downstream is busy.
	Submit(entry LogEntry) error

	// Offer is the non-blocking variant: provide is called at most once, and
	// only after the pipeline commits to taking the entry.
	Offer(provide func() LogEntry) OfferResult
}
