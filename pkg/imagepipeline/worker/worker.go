// Package worker runs one pipeline stage against its inbound queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

const defaultConcurrency = 4

// receiveBackoff is how long to pause after a transport-level receive
// failure before polling again.
const receiveBackoff = 2 * time.Second

// Worker drains a consumer into a stage with a bounded goroutine pool. Items
// are independent: one failing item nacks only itself, the rest of the batch
// acks normally.
type Worker struct {
	stage       imagepipeline.Stage
	consumer    imagepipeline.Consumer
	concurrency int
	logger      *slog.Logger
}

func New(stage imagepipeline.Stage, consumer imagepipeline.Consumer, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{stage: stage, consumer: consumer, concurrency: concurrency, logger: logger}
}

// Run polls until ctx is canceled. The receive loop never exits on a
// transport error; it logs, backs off, and keeps polling.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger.With("stage", w.stage.Name())
	log.Info("worker started", "concurrency", w.concurrency)

	for {
		if err := ctx.Err(); err != nil {
			log.Info("worker stopping")
			return err
		}

		msgs, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping")
				return ctx.Err()
			}
			log.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		w.processBatch(ctx, msgs, log)
	}
}

func (w *Worker) processBatch(ctx context.Context, msgs []imagepipeline.Message, log *slog.Logger) {
	start := time.Now()
	// Batch id correlates per-item log lines with the batch summary.
	log = log.With("batch_id", uuid.NewString())
	var succeeded, failed atomic.Int64

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(msg imagepipeline.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			if w.processOne(ctx, msg, log) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		}(msg)
	}
	wg.Wait()

	log.Info("batch processed",
		"received", len(msgs),
		"succeeded", succeeded.Load(),
		"failed", failed.Load(),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (w *Worker) processOne(ctx context.Context, msg imagepipeline.Message, log *slog.Logger) bool {
	if err := w.process(ctx, msg, log); err != nil {
		log.Error("item failed, redelivering",
			"key", msg.Item.Key,
			"article_id", msg.Item.ArticleID,
			"error", err)
		if nerr := w.consumer.Nack(ctx, msg); nerr != nil {
			log.Error("nack failed", "key", msg.Item.Key, "error", nerr)
		}
		return false
	}
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The work is done; a failed ack means the transport will
		// redeliver and the stage's idempotent writes absorb it.
		log.Warn("ack failed", "key", msg.Item.Key, "error", err)
	}
	return true
}

// process contains a panic to the one item that raised it, so batch siblings
// still complete and the message redelivers like any other failure.
func (w *Worker) process(ctx context.Context, msg imagepipeline.Message, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("stage panicked", "key", msg.Item.Key, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("stage %s panicked on %s: %v", w.stage.Name(), msg.Item.Key, r)
		}
	}()
	return w.stage.Process(ctx, msg.Item)
}
