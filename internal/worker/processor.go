package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/repository"
	"github.com/jwalitptl/remind-api/internal/service/dispatch"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
	"github.com/jwalitptl/remind-api/pkg/logger"
	"github.com/jwalitptl/remind-api/pkg/metrics"
)

type ProcessorConfig struct {
	PollInterval time.Duration
	MaxRetries   int
	SendingLease time.Duration
	// RecordConcurrency bounds how many reminders are handled at once
	// within a cycle; per-recipient fan-out is bounded separately by
	// the dispatcher pool.
	RecordConcurrency int
}

// Processor runs the scan-and-dispatch cycle: find due reminders,
// claim each one through the delivery state machine, fan out, then
// record the outcome.
type Processor struct {
	repo       repository.RemindRepository
	dispatcher dispatch.Notifier
	config     ProcessorConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewProcessor(
	repo repository.RemindRepository,
	dispatcher dispatch.Notifier,
	config ProcessorConfig,
	l *logger.Logger,
	m *metrics.Metrics,
) *Processor {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Minute
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.SendingLease <= 0 {
		config.SendingLease = 5 * time.Minute
	}
	if config.RecordConcurrency <= 0 {
		config.RecordConcurrency = 4
	}
	return &Processor{
		repo:       repo,
		dispatcher: dispatcher,
		config:     config,
		logger:     l,
		metrics:    m,
	}
}

// Start runs cycles on the poll interval until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting dispatch processor",
		"poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down dispatch processor")
			return
		case <-ticker.C:
			p.reclaimStale(ctx)
			if _, err := p.RunCycle(ctx, time.Now()); err != nil {
				p.logger.Error(err, "dispatch cycle failed")
			}
		}
	}
}

// reclaimStale releases sending leases left behind by an interrupted
// cycle so those records become due again.
func (p *Processor) reclaimStale(ctx context.Context) {
	reclaimed, err := p.repo.ReclaimStale(ctx, time.Now().Add(-p.config.SendingLease))
	if err != nil {
		p.logger.Error(err, "failed to reclaim stale sending leases")
		return
	}
	if reclaimed > 0 {
		p.logger.Warn("reclaimed stale sending leases", "count", reclaimed)
		if p.metrics != nil {
			p.metrics.RemindersReclaimed.Add(float64(reclaimed))
		}
	}
}

// RunCycle executes one scan-and-dispatch pass. Sent and Failed count
// record-level transitions; Skipped sums recipient-level skips across
// all dispatched records. A record claimed by a concurrent cycle is
// not an error and is simply left out of the counts.
func (p *Processor) RunCycle(ctx context.Context, now time.Time) (*model.CycleReport, error) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		p.metrics.CyclesTotal.Inc()
		timer = prometheus.NewTimer(p.metrics.CycleDuration)
		defer timer.ObserveDuration()
	}

	due, err := p.repo.FindDue(ctx, now, p.config.MaxRetries)
	if err != nil {
		if p.metrics != nil {
			p.metrics.DatabaseOperations.WithLabelValues("find_due_reminders", "error").Inc()
		}
		return nil, fmt.Errorf("failed to find due reminders: %w", err)
	}
	if p.metrics != nil {
		p.metrics.DatabaseOperations.WithLabelValues("find_due_reminders", "success").Inc()
	}

	report := &model.CycleReport{Scanned: len(due)}
	if p.metrics != nil {
		p.metrics.RemindersScanned.Add(float64(len(due)))
	}
	if len(due) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.config.RecordConcurrency)
	for _, remind := range due {
		remind := remind
		g.Go(func() error {
			sent, skipped, failed := p.processRemind(ctx, remind)
			mu.Lock()
			if sent {
				report.Sent++
			}
			if failed {
				report.Failed++
			}
			report.Skipped += skipped
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.logger.Info("dispatch cycle complete",
		"scanned", report.Scanned, "sent", report.Sent,
		"failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// processRemind drives one reminder through the delivery state
// machine. Only the cycle that wins the compare-and-set into sending
// dispatches; everyone else backs off silently.
func (p *Processor) processRemind(ctx context.Context, remind *model.Remind) (sent bool, skipped int, failed bool) {
	claimed, err := p.repo.CompareAndSetStatus(ctx, remind.ID,
		[]model.DeliveryStatus{model.DeliveryStatusNotSent, model.DeliveryStatusFailed},
		model.DeliveryStatusSending)
	if err != nil {
		p.logger.Error(err, "failed to claim reminder", "remind_id", remind.ID.String())
		return false, 0, false
	}
	if !claimed {
		p.logger.Debug("reminder already being handled", "remind_id", remind.ID.String())
		return false, 0, false
	}

	result := p.dispatcher.NotifyUsers(ctx, remind)

	if result.Delivered() {
		if err := p.finalize(ctx, remind, model.DeliveryStatusSent); err != nil {
			return false, result.Skipped, false
		}
		if p.metrics != nil {
			p.metrics.RemindersSent.Inc()
		}
		return true, result.Skipped, false
	}

	if err := p.finalize(ctx, remind, model.DeliveryStatusFailed); err != nil {
		return false, result.Skipped, false
	}
	if p.metrics != nil {
		p.metrics.RemindersFailed.Inc()
	}
	p.logger.Warn("all deliveries failed, reminder left for retry",
		"remind_id", remind.ID.String(), "recipients", len(result.Recipients))
	return false, result.Skipped, true
}

func (p *Processor) finalize(ctx context.Context, remind *model.Remind, to model.DeliveryStatus) error {
	ok, err := p.repo.CompareAndSetStatus(ctx, remind.ID,
		[]model.DeliveryStatus{model.DeliveryStatusSending}, to)
	if err != nil {
		p.logger.Error(err, "failed to record delivery outcome",
			"remind_id", remind.ID.String(), "status", string(to))
		return err
	}
	if !ok {
		// Lease reclaimed out from under us; the next cycle retries.
		p.logger.Warn("lost sending lease before finalizing",
			"remind_id", remind.ID.String(), "status", string(to))
		return apperrors.NewConflict(fmt.Sprintf("sending lease lost for %s", remind.ID))
	}
	return nil
}
