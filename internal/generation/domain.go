// Package generation serves content generation requests and tracks batch
// jobs run by the background worker.
package generation

import (
	"context"
	"errors"
	"time"
)

// Kind selects what is generated.
type Kind string

// Generation kinds.
const (
	KindCharacter Kind = "character"
	KindStory     Kind = "story"
	KindWorld     Kind = "world"
)

// ParseKind reports whether raw names a supported kind.
func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(raw); k {
	case KindCharacter, KindStory, KindWorld:
		return k, true
	}
	return "", false
}

// ErrGeneratorUnavailable wraps transport failures talking to the model.
var ErrGeneratorUnavailable = errors.New("generation: generator unavailable")

// ErrBatchNotFound is returned when a batch is unknown, expired or not owned by
// the caller.
var ErrBatchNotFound = errors.New("generation: batch not found")

// Request is a single generation request.
type Request struct {
	Kind      Kind   `json:"kind" validate:"required,oneof=character story world"`
	Prompt    string `json:"prompt" validate:"required,max=4000"`
	MaxTokens int    `json:"maxTokens" validate:"gte=0"`
}

// Result is a generated piece of content.
type Result struct {
	Kind       Kind   `json:"kind"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// Generator produces content. Implementations must honour ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// BatchState is the lifecycle of a batch job.
type BatchState string

// Batch states.
const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
)

// BatchItem is one request of a batch with its outcome.
type BatchItem struct {
	Request Request `json:"request"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Batch is the stored status of a batch job.
type Batch struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	State       BatchState  `json:"state"`
	Items       []BatchItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// BatchPayload is the queued task body.
type BatchPayload struct {
	BatchID string `json:"batch_id"`
	OwnerID string `json:"owner_id"`
}
