package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/services"
	"github.com/doc-catalog/services/session"
)

// Scheduler runs the periodic maintenance loops: promoting due and expired
// jobs, re-enqueueing stuck documents, refreshing the taxonomy snapshot,
// probing the session backend, and emitting queue metrics.
type Scheduler struct {
	store    services.DocumentService
	queue    services.QueueService
	taxonomy services.TaxonomyService
	enqueuer *Enqueuer
	sessions *session.Manager
	cfg      *config.PipelineConfig
	log      *logrus.Entry

	cron *cron.Cron
}

func NewScheduler(
	store services.DocumentService,
	queue services.QueueService,
	taxonomy services.TaxonomyService,
	enqueuer *Enqueuer,
	sessions *session.Manager,
	cfg *config.PipelineConfig,
	log *logrus.Entry,
) *Scheduler {
	return &Scheduler{
		store:    store,
		queue:    queue,
		taxonomy: taxonomy,
		enqueuer: enqueuer,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		cron:     cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 30s", s.promoteDue); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 2m", s.sweepStuck); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 5m", s.refreshTaxonomy); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 1m", s.probeSessionBackend); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 2m", s.emitMetrics); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) promoteDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	moved, err := s.queue.PromoteDue(ctx, services.ProcessQueue)
	if err != nil {
		s.log.WithError(err).Warn("queue promotion failed")
		return
	}
	if moved > 0 {
		s.log.WithField("moved", moved).Debug("promoted due jobs")
	}
}

// sweepStuck re-enqueues documents sitting in PENDING or QUEUED past the
// stuck threshold. Idempotent: double enqueue only costs a redundant job,
// which the PROCESSING transition guard absorbs.
func (s *Scheduler) sweepStuck() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ids, err := s.store.StuckDocuments(ctx, time.Duration(s.cfg.StuckThresholdS)*time.Second)
	if err != nil {
		s.log.WithError(err).Warn("stuck document scan failed")
		return
	}
	for _, id := range ids {
		if err := s.enqueuer.EnqueueDocument(ctx, id, nil); err != nil {
			s.log.WithError(err).WithField("document_id", id).Warn("failed to re-enqueue stuck document")
		}
	}
	if len(ids) > 0 {
		s.log.WithField("count", len(ids)).Info("re-enqueued stuck documents")
	}
}

func (s *Scheduler) refreshTaxonomy() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.taxonomy.RefreshSnapshot(ctx); err != nil {
		s.log.WithError(err).Warn("taxonomy snapshot refresh failed")
	}
}

func (s *Scheduler) probeSessionBackend() {
	if s.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.sessions.CheckBackend(ctx)
}

func (s *Scheduler) emitMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	depth, err := s.queue.Depth(ctx, services.ProcessQueue)
	if err != nil {
		s.log.WithError(err).Debug("queue depth read failed")
		return
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		s.log.WithError(err).Debug("status counts read failed")
		return
	}

	fields := logrus.Fields{"queue_depth": depth}
	for status, count := range counts {
		fields["documents_"+string(status)] = count
	}
	s.log.WithFields(fields).Info("pipeline metrics")
}
