package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
	"github.com/doc-catalog/services/ai"
	"github.com/doc-catalog/services/extract"
)

// AIGateway is the pipeline's view of the AI gateway.
type AIGateway interface {
	Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// maxEmbedChars caps the text sent for embedding.
const maxEmbedChars = 8000

// terminalError marks a processing failure that must not be retried.
type terminalError struct {
	reason string
	err    error
}

func (e *terminalError) Error() string { return fmt.Sprintf("%s: %v", e.reason, e.err) }
func (e *terminalError) Unwrap() error { return e.err }

func terminal(reason string, err error) error {
	return &terminalError{reason: reason, err: err}
}

// WorkerPool consumes the processing queue. Each worker owns one job at a
// time; per-document ordering comes from the single-lease invariant.
type WorkerPool struct {
	store     services.DocumentService
	queue     services.QueueService
	blobs     services.BlobService
	gateway   AIGateway
	taxonomy  services.TaxonomyService
	search    services.SearchService
	preview   services.PreviewService
	extractor *extract.Extractor
	cfg       *config.PipelineConfig
	log       *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorkerPool(
	store services.DocumentService,
	queue services.QueueService,
	blobs services.BlobService,
	gateway AIGateway,
	taxonomy services.TaxonomyService,
	search services.SearchService,
	preview services.PreviewService,
	extractor *extract.Extractor,
	cfg *config.PipelineConfig,
	log *logrus.Entry,
) *WorkerPool {
	return &WorkerPool{
		store:     store,
		queue:     queue,
		blobs:     blobs,
		gateway:   gateway,
		taxonomy:  taxonomy,
		search:    search,
		preview:   preview,
		extractor: extractor,
		cfg:       cfg,
		log:       log,
	}
}

// Start launches the worker goroutines. Stop drains them.
func (w *WorkerPool) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	concurrency := w.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	w.log.WithField("concurrency", concurrency).Info("worker pool started")
}

// Stop signals the workers and waits up to the shutdown grace for in-flight
// jobs to finish. Unfinished leases are re-delivered after the visibility
// window.
func (w *WorkerPool) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	grace := time.Duration(w.cfg.ShutdownGraceS) * time.Second
	select {
	case <-done:
		w.log.Info("worker pool drained")
	case <-time.After(grace):
		w.log.Warn("worker pool shutdown grace elapsed with jobs in flight")
	}
}

func (w *WorkerPool) run(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.log.WithField("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Reserve(ctx, services.ProcessQueue, time.Duration(w.cfg.JobVisibilityTimeout)*time.Second)
		if err != nil {
			log.WithError(err).Warn("queue reserve failed")
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if job == nil {
			sleepCtx(ctx, time.Second)
			continue
		}

		w.handle(ctx, log, job)
	}
}

func (w *WorkerPool) handle(ctx context.Context, log *logrus.Entry, job *services.Job) {
	log = log.WithFields(logrus.Fields{"job_id": job.ID, "document_id": job.DocumentID, "attempts": job.Attempts})

	err := w.process(ctx, job.DocumentID)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, services.ProcessQueue, job.ID); ackErr != nil {
			log.WithError(ackErr).Warn("ack failed after successful processing")
		}
		log.Info("document processed")
		return
	}

	var term *terminalError
	if errors.As(err, &term) {
		w.fail(ctx, log, job, term.reason, err)
		return
	}

	if job.Attempts+1 >= w.cfg.JobMaxAttempts {
		w.fail(ctx, log, job, "retries_exhausted", err)
		return
	}

	// Retriable: back to QUEUED, nack with backoff.
	if stErr := w.store.UpdateStatus(ctx, job.DocumentID, models.DocumentStatusQueued, nil, nil); stErr != nil {
		log.WithError(stErr).Warn("failed to return document to QUEUED")
	}
	backoff := services.RetryBackoff(job.Attempts+1,
		time.Duration(w.cfg.RetryBaseSeconds)*time.Second,
		time.Duration(w.cfg.RetryCapSeconds)*time.Second)
	if nackErr := w.queue.Nack(ctx, services.ProcessQueue, job.ID, err.Error(), backoff); nackErr != nil {
		log.WithError(nackErr).Error("nack failed, job will re-deliver after visibility timeout")
	}
	log.WithError(err).WithField("backoff", backoff.String()).Warn("processing failed, job rescheduled")
}

func (w *WorkerPool) fail(ctx context.Context, log *logrus.Entry, job *services.Job, reason string, cause error) {
	msg := fmt.Sprintf("%s: %v", reason, cause)
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	if err := w.store.UpdateStatus(ctx, job.DocumentID, models.DocumentStatusFailed, nil, &msg); err != nil {
		log.WithError(err).Error("failed to mark document FAILED")
	}
	if err := w.queue.Ack(ctx, services.ProcessQueue, job.ID); err != nil {
		log.WithError(err).Warn("ack failed for terminal job")
	}
	log.WithError(cause).WithField("reason", reason).Error("document failed")
}

// process runs steps A through E for one document.
func (w *WorkerPool) process(ctx context.Context, documentID int64) error {
	doc, err := w.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return terminal("document_missing", err)
		}
		return err
	}

	progress := 5
	if err := w.store.UpdateStatus(ctx, documentID, models.DocumentStatusProcessing, &progress, nil); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			// Another worker or a reset got here first.
			return terminal("conflicting_state", err)
		}
		return err
	}

	// Step A: fetch bytes.
	body, err := w.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		if errors.Is(err, services.ErrBlobMissing) {
			return terminal("blob_missing", err)
		}
		return err
	}
	content, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}

	// Step B: extract text, falling back to vision OCR for low-yield input.
	fileType := extract.DetectType(doc.Filename)
	extraction, err := w.extractor.Extract(ctx, fileType, content)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return terminal("extraction", err)
		}
		return err
	}
	text := extraction.Text
	if extraction.NeedsOCR {
		ocrText, err := w.ocr(ctx, fileType, content)
		if err != nil {
			return err
		}
		if len(ocrText) > len(text) {
			text = ocrText
		}
	}
	if strings.TrimSpace(text) == "" {
		return terminal("extraction", fmt.Errorf("no text could be extracted"))
	}
	progress = 25
	if err := w.store.UpdateStatus(ctx, documentID, models.DocumentStatusProcessing, &progress, nil); err != nil {
		return err
	}

	// Step C: analyze and persist content. Invalid mappings are dropped,
	// never fatal.
	vocabulary := w.taxonomy.Snapshot(ctx)
	analysis, err := w.gateway.Analyze(ctx, text, vocabulary)
	if err != nil {
		return classifyGatewayError(err)
	}

	validation, err := w.taxonomy.ValidateMappings(ctx, analysis.KeywordMappings)
	if err != nil {
		return err
	}
	analysis.KeywordMappings = validation.Valid
	if len(validation.Rejected) > 0 {
		w.log.WithFields(logrus.Fields{
			"document_id": documentID,
			"rejected":    len(validation.Rejected),
		}).Info("dropped unmappable keywords")
	}

	keywords := make([]string, 0, len(validation.Valid))
	termIDs := make([]int64, 0, len(validation.Valid))
	for _, mapping := range validation.Valid {
		keywords = append(keywords, mapping.MappedCanonicalTerm)
		term, err := w.taxonomy.Resolve(ctx, mapping.MappedCanonicalTerm)
		if err != nil {
			return err
		}
		if term != nil {
			termIDs = append(termIDs, term.ID)
		}
	}

	metadata := map[string]any{
		"file_type":  string(fileType),
		"page_count": extraction.PageCount,
		"ocr_used":   extraction.NeedsOCR,
	}
	if err := w.store.UpdateContent(ctx, documentID, text, *analysis, keywords, metadata, nil); err != nil {
		return err
	}
	if err := w.store.ReplaceTaxonomyMappings(ctx, documentID, termIDs); err != nil {
		return err
	}
	progress = 55
	if err := w.store.UpdateStatus(ctx, documentID, models.DocumentStatusProcessing, &progress, nil); err != nil {
		return err
	}

	// Step D: embed.
	embedText := text
	if len(embedText) > maxEmbedChars {
		embedText = embedText[:maxEmbedChars]
	}
	vector, err := w.gateway.EmbedText(ctx, embedText)
	if err != nil {
		if w.cfg.RequireEmbedding {
			gwErr := classifyGatewayError(err)
			var term *terminalError
			if errors.As(gwErr, &term) {
				return terminal("embedding", err)
			}
			return gwErr
		}
		w.log.WithError(err).WithField("document_id", documentID).Warn("embedding failed, completing without vector")
	} else {
		if err := w.store.UpdateEmbedding(ctx, documentID, vector); err != nil {
			return err
		}
	}
	progress = 80
	if err := w.store.UpdateStatus(ctx, documentID, models.DocumentStatusProcessing, &progress, nil); err != nil {
		return err
	}

	// Step E: preview (best-effort), complete, invalidate caches.
	if w.preview != nil {
		if previewKey, err := w.preview.GeneratePreview(ctx, doc.BlobKey, doc.Filename); err != nil {
			w.log.WithError(err).WithField("document_id", documentID).Debug("preview generation skipped")
		} else if previewKey != "" {
			if err := w.store.UpdateContent(ctx, documentID, text, *analysis, keywords, metadata, &previewKey); err != nil {
				w.log.WithError(err).Warn("failed to persist preview key")
			}
		}
	}

	progress = 100
	if err := w.store.UpdateStatus(ctx, documentID, models.DocumentStatusCompleted, &progress, nil); err != nil {
		return err
	}

	if err := w.search.InvalidateCaches(ctx); err != nil {
		w.log.WithError(err).Warn("search cache invalidation failed")
	}
	return nil
}

func (w *WorkerPool) ocr(ctx context.Context, fileType extract.FileType, content []byte) (string, error) {
	mimeType := "image/png"
	switch fileType {
	case extract.FileTypeImage:
		// Keyed off extension at upload time; jpeg is the common case.
		mimeType = "image/jpeg"
	case extract.FileTypePDF:
		mimeType = "application/pdf"
	}
	text, err := w.gateway.OCRImage(ctx, content, mimeType)
	if err != nil {
		return "", classifyGatewayError(err)
	}
	return text, nil
}

// classifyGatewayError maps AI gateway failures onto the retry policy:
// transient and rate-limit failures retry, the rest are terminal.
func classifyGatewayError(err error) error {
	switch ai.KindOf(err) {
	case ai.KindTransient, ai.KindRateLimited:
		return err
	default:
		return terminal("ai_"+string(ai.KindOf(err)), err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
