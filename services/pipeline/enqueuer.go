// Package pipeline drives document ingestion: enqueueing, the worker
// pool, and the background scheduler.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
)

// Enqueuer admits documents into the processing queue with backpressure
// and batch staggering.
type Enqueuer struct {
	store services.DocumentService
	queue services.QueueService
	cfg   *config.PipelineConfig
	log   *logrus.Entry
}

func NewEnqueuer(store services.DocumentService, queue services.QueueService, cfg *config.PipelineConfig, log *logrus.Entry) *Enqueuer {
	return &Enqueuer{store: store, queue: queue, cfg: cfg, log: log}
}

// EnqueueDocument admits one document. The status moves to QUEUED before
// the queue write; a crash between the two is repaired by the stuck sweep.
func (e *Enqueuer) EnqueueDocument(ctx context.Context, documentID int64, eta *time.Time) error {
	depth, err := e.queue.Depth(ctx, services.ProcessQueue)
	if err != nil {
		return err
	}
	if depth >= int64(e.cfg.QueueHighWatermark) {
		return fmt.Errorf("%w: queue depth %d at high watermark", services.ErrBackpressure, depth)
	}

	if err := e.store.UpdateStatus(ctx, documentID, models.DocumentStatusQueued, nil, nil); err != nil {
		return err
	}

	jobID, err := e.queue.Enqueue(ctx, services.ProcessQueue, services.Job{DocumentID: documentID}, eta)
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"job_id":      jobID,
	}).Info("document queued for processing")
	return nil
}

// EnqueueBatch staggers a multi-document upload so a large batch does not
// monopolize the worker pool. The first document starts immediately.
func (e *Enqueuer) EnqueueBatch(ctx context.Context, documentIDs []int64) error {
	stagger := time.Duration(e.cfg.UploadBatchStaggerS) * time.Second
	for i, documentID := range documentIDs {
		var eta *time.Time
		if i > 0 && stagger > 0 {
			t := time.Now().Add(time.Duration(i) * stagger)
			eta = &t
		}
		if err := e.EnqueueDocument(ctx, documentID, eta); err != nil {
			return err
		}
	}
	return nil
}
