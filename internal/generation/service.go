package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomtale/loomtale/internal/policy"
)

// MaxBatchItems bounds the size of one batch.
const MaxBatchItems = 20

// batchNamespace derives stable batch ids from idempotency keys.
var batchNamespace = uuid.MustParse("6f1c7e52-3b8a-4c35-9d0e-4a8f2b7c1d90")

// Enqueuer hands a batch to the background worker. Enqueueing the same batch
// twice must be a no-op.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, payload BatchPayload) error
}

// Service runs single generations and manages batches.
type Service struct {
	generator Generator
	store     *BatchStore
	queue     Enqueuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service. store and queue may be nil in processes that
// never handle batches.
func NewService(generator Generator, store *BatchStore, queue Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{generator: generator, store: store, queue: queue, logger: logger, now: time.Now}
}

// Generate runs one request. A zero MaxTokens means the default size.
func (s *Service) Generate(ctx context.Context, ownerID string, req Request) (Result, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = policy.DefaultRequestedTokens
	}
	start := s.now()
	res, err := s.generator.Generate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	s.logger.InfoContext(ctx, "content generated",
		slog.String("owner_id", ownerID),
		slog.String("kind", string(req.Kind)),
		slog.Int("max_tokens", req.MaxTokens),
		slog.Int("tokens_used", res.TokensUsed),
		slog.Duration("elapsed", s.now().Sub(start)))
	return res, nil
}

// SubmitBatch stores a pending batch and queues it. With a non-empty
// idempotency key, resubmitting returns the existing batch and created is
// false.
func (s *Service) SubmitBatch(ctx context.Context, ownerID string, items []Request, idempotencyKey string) (batch Batch, created bool, err error) {
	if s.store == nil || s.queue == nil {
		return Batch{}, false, errors.New("generation: batches are not configured")
	}
	id := uuid.NewString()
	if idempotencyKey != "" {
		id = uuid.NewSHA1(batchNamespace, []byte(ownerID+"\x00"+idempotencyKey)).String()
	}

	batch = Batch{ID: id, OwnerID: ownerID, State: BatchPending, CreatedAt: s.now().UTC()}
	for _, item := range items {
		if item.MaxTokens <= 0 {
			item.MaxTokens = policy.DefaultRequestedTokens
		}
		batch.Items = append(batch.Items, BatchItem{Request: item})
	}

	created, err = s.store.Create(ctx, batch)
	if err != nil {
		return Batch{}, false, err
	}
	if !created {
		if batch, err = s.store.Load(ctx, id); err != nil {
			return Batch{}, false, err
		}
		if batch.State != BatchPending {
			return batch, false, nil
		}
	}
	if err := s.queue.EnqueueBatch(ctx, BatchPayload{BatchID: id, OwnerID: ownerID}); err != nil {
		return Batch{}, false, fmt.Errorf("generation: enqueue batch: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "batch submitted",
			slog.String("batch_id", id),
			slog.String("owner_id", ownerID),
			slog.Int("items", len(items)))
	}
	return batch, created, nil
}

// Batch returns a batch owned by ownerID.
func (s *Service) Batch(ctx context.Context, ownerID, id string) (Batch, error) {
	if s.store == nil {
		return Batch{}, ErrBatchNotFound
	}
	b, err := s.store.Load(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if ownerID == "" || b.OwnerID != ownerID {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

// RunBatch processes a queued batch. Items already holding a result are
// skipped, so a retried task resumes where it stopped. Item failures are
// recorded on the item; only storage and cancellation errors are returned.
func (s *Service) RunBatch(ctx context.Context, payload BatchPayload) error {
	b, err := s.store.Load(ctx, payload.BatchID)
	if errors.Is(err, ErrBatchNotFound) {
		s.logger.WarnContext(ctx, "batch expired before processing", slog.String("batch_id", payload.BatchID))
		return nil
	}
	if err != nil {
		return err
	}
	if b.State == BatchCompleted || b.State == BatchFailed {
		return nil
	}

	b.State = BatchRunning
	if err := s.store.Save(ctx, b); err != nil {
		return err
	}

	failed := 0
	for i := range b.Items {
		item := &b.Items[i]
		if item.Result != nil {
			continue
		}
		res, err := s.generator.Generate(ctx, item.Request)
		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = s.store.Save(context.WithoutCancel(ctx), b)
			return ctxErr
		}
		if err != nil {
			item.Error = err.Error()
			failed++
		} else {
			item.Result = &res
			item.Error = ""
		}
		if err := s.store.Save(ctx, b); err != nil {
			return err
		}
	}

	done := s.now().UTC()
	b.CompletedAt = &done
	b.State = BatchCompleted
	if failed == len(b.Items) {
		b.State = BatchFailed
	}
	if err := s.store.Save(ctx, b); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "batch finished",
		slog.String("batch_id", b.ID),
		slog.String("state", string(b.State)),
		slog.Int("items", len(b.Items)),
		slog.Int("failed", failed))
	return nil
}
