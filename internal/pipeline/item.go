package pipeline

import (
	"time"

	"github.com/mtiwari1/tradeflow/internal/extract"
	"github.com/mtiwari1/tradeflow/internal/intake"
)

// State is the lifecycle position of an UploadItem.
type State string

const (
	StateQueued     State = "queued"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// UploadItem is one submitted file under management. Values handed out by
// the pipeline are copies; Result is never mutated once set.
type UploadItem struct {
	ID        string                 `json:"id"`
	File      intake.FileRef         `json:"file"`
	State     State                  `json:"state"`
	Progress  int                    `json:"progress"`
	Result    *extract.PurchaseOrder `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Rejection reports a file refused at submission.
type Rejection struct {
	Name   string         `json:"name"`
	Reason string         `json:"reason"`
	File   intake.FileRef `json:"-"` // zero when the file never reached disk
	Err    error          `json:"-"`
}

func reject(f intake.FileRef, err error) Rejection {
	return Rejection{Name: f.Name, Reason: err.Error(), File: f, Err: err}
}

// EventType distinguishes updates from removals on a subscription.
type EventType string

const (
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is one applied change, delivered to subscribers.
type Event struct {
	Type EventType  `json:"type"`
	Item UploadItem `json:"item"`
}
