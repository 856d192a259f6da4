package jobs

import (
	"time"

	"github.com/zombor/invoice-importer/internal/extraction"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no transition can leave s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canAdvance reports whether pending -> processing -> {completed | failed}
// allows moving from s to next
func (s Status) canAdvance(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job is an asynchronous extraction of one uploaded document
type Job struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"userId"`
	SourceName  string     `json:"fileName"`
	Parser      string     `json:"parser,omitempty"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"` // Percent done, 100 once completed
	Result      *Result    `json:"result,omitempty"` // Set only when completed
	Error       string     `json:"error,omitempty"`  // Set only when failed
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	payload []byte // Document bytes, released once the job is terminal
	seq     uint64 // Submission order, breaks createdAt ties
}

// Result is the output of a completed job
type Result struct {
	Products      []extraction.Record `json:"products"`
	SourceName    string              `json:"sourceName"`
	PagesCount    int                 `json:"pagesCount"`
	TextLength    int                 `json:"textLength"`
	ExtractedText string              `json:"extractedText,omitempty"` // Leading part of the document text
}

// Outcome carries the data recorded by a transition
type Outcome struct {
	Result *Result
	Err    string
}

// Payload returns the submitted document bytes. It is nil once the job is terminal.
func (j Job) Payload() []byte {
	return j.payload
}
