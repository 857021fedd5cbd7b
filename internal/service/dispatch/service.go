package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/push"
	"github.com/jwalitptl/remind-api/internal/repository"
	"github.com/jwalitptl/remind-api/internal/timefmt"
	"github.com/jwalitptl/remind-api/internal/urlbuilder"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
	"github.com/jwalitptl/remind-api/pkg/logger"
	"github.com/jwalitptl/remind-api/pkg/metrics"
)

const (
	titleColor   = "#459ae9"
	clockEmoji   = "\U0001F552"
	remarkLabel  = "Notify time: "
	userCacheTTL = 5 * time.Minute
)

// Notifier fans a reminder out to all of its recipients.
type Notifier interface {
	NotifyUsers(ctx context.Context, remind *model.Remind) *model.DeliveryResult
}

type Config struct {
	PoolSize        int
	DeliveryTimeout time.Duration
	TemplateID      string
}

// Dispatcher delivers one reminder to owner and participants with
// bounded concurrency. The semaphore is shared across all reminders
// handled by this dispatcher, so the pool bound holds cycle wide.
type Dispatcher struct {
	users     repository.UserRepository
	sender    push.Sender
	urls      *urlbuilder.Builder
	sem       *semaphore.Weighted
	timeout   time.Duration
	template  string
	userCache *cache.Cache
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(
	users repository.UserRepository,
	sender push.Sender,
	urls *urlbuilder.Builder,
	cfg Config,
	l *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 60 * time.Second
	}
	return &Dispatcher{
		users:     users,
		sender:    sender,
		urls:      urls,
		sem:       semaphore.NewWeighted(int64(cfg.PoolSize)),
		timeout:   cfg.DeliveryTimeout,
		template:  cfg.TemplateID,
		userCache: cache.New(userCacheTTL, 2*userCacheTTL),
		logger:    l,
		metrics:   m,
	}
}

// NotifyUsers dispatches to every recipient of the reminder and
// aggregates the outcomes. It never fails as a whole: each recipient
// resolves to sent, skipped, or failed, and the caller decides the
// record's fate from the counts.
func (d *Dispatcher) NotifyUsers(ctx context.Context, remind *model.Remind) *model.DeliveryResult {
	recipients := remind.Recipients()
	results := make([]model.RecipientResult, len(recipients))

	var g errgroup.Group
	for i, uid := range recipients {
		i, uid := i, uid
		g.Go(func() error {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				results[i] = model.RecipientResult{
					RecipientID: uid,
					Outcome:     model.OutcomeFailed,
					Error:       fmt.Sprintf("pool acquire: %v", err),
				}
				return nil
			}
			defer d.sem.Release(1)

			results[i] = d.notifyRecipient(ctx, remind, uid)
			return nil
		})
	}
	g.Wait()

	agg := &model.DeliveryResult{RemindID: remind.ID.String()}
	for _, res := range results {
		agg.Add(res)
		if d.metrics != nil {
			d.metrics.Deliveries.WithLabelValues(string(res.Outcome)).Inc()
		}
	}
	return agg
}

// notifyRecipient resolves the profile, builds the template payload
// and hands it to the transport under a hard per-delivery deadline.
// Every error stops here: a bad recipient never touches its siblings.
func (d *Dispatcher) notifyRecipient(ctx context.Context, remind *model.Remind, uid string) model.RecipientResult {
	if d.metrics != nil {
		d.metrics.DeliveriesInFlight.Inc()
		defer d.metrics.DeliveriesInFlight.Dec()
		timer := prometheus.NewTimer(d.metrics.DeliveryDuration)
		defer timer.ObserveDuration()
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	user, err := d.lookupUser(cctx, uid)
	if err != nil {
		// Only a missing profile is a skip; a store outage must leave
		// the record retryable, not mark it delivered.
		if apperrors.IsCode(err, apperrors.ErrLookup) {
			d.logger.Warn("recipient profile not found, skipping",
				"recipient_id", uid, "remind_id", remind.ID.String(), "error", err.Error())
			return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeSkipped, Error: err.Error()}
		}
		d.logger.Error(err, "failed to resolve recipient profile",
			"recipient_id", uid, "remind_id", remind.ID.String())
		return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeFailed, Error: err.Error()}
	}
	if !user.Subscribe {
		d.logger.Info("user has unsubscribed, skip sending notification",
			"recipient_id", uid, "name", user.DisplayName())
		return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeSkipped}
	}

	payload := d.buildPayload(remind)
	url := d.urls.AbsoluteRemind(remind.ID)

	type sendResult struct {
		deliveryID string
		err        error
	}
	ch := make(chan sendResult, 1)
	go func() {
		id, err := d.sender.SendTemplate(cctx, uid, d.template, url, payload)
		ch <- sendResult{deliveryID: id, err: err}
	}()

	select {
	case <-cctx.Done():
		// Abandon the delivery; the sender goroutine drains into the
		// buffered channel whenever it returns.
		d.logger.Error(cctx.Err(), "delivery timed out",
			"recipient_id", uid, "remind_id", remind.ID.String())
		return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeFailed, Error: cctx.Err().Error()}
	case res := <-ch:
		if res.err != nil {
			d.logger.Error(res.err, "failed to send notification",
				"recipient_id", uid, "name", user.DisplayName(), "remind_id", remind.ID.String())
			return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeFailed, Error: res.err.Error()}
		}
		d.logger.Info("successfully sent notification",
			"recipient_id", uid, "name", user.DisplayName(), "delivery_id", res.deliveryID)
		return model.RecipientResult{RecipientID: uid, Outcome: model.OutcomeSent, DeliveryID: res.deliveryID}
	}
}

func (d *Dispatcher) lookupUser(ctx context.Context, uid string) (*model.User, error) {
	if cached, ok := d.userCache.Get(uid); ok {
		return cached.(*model.User), nil
	}
	user, err := d.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	d.userCache.Set(uid, user, cache.DefaultExpiration)
	return user, nil
}

func (d *Dispatcher) buildPayload(remind *model.Remind) push.TemplatePayload {
	return push.TemplatePayload{
		First: push.TemplateField{
			Value: fmt.Sprintf("%s %s\n", clockEmoji, remind.Title()),
			Color: titleColor,
		},
		Keyword1: push.TemplateField{Value: remind.Desc},
		Keyword2: push.TemplateField{Value: remind.LocalTimeString()},
		Remark:   push.TemplateField{Value: remarkLabel + timefmt.DescribeOffset(remind.Defer)},
	}
}
