package notifier

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/notifier/domain"
	obsmetrics "github.com/smallbiznis/enrollpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Holder     *config.ReconcileConfigHolder
	Provider   domain.Provider
	Lifecycle  fx.Lifecycle
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Queue decouples notification delivery from the verification path. Enqueue
// never blocks; delivery failures are retried a bounded number of times and
// then dropped, since notification is advisory and must not hold up or undo
// an enrollment.
type Queue struct {
	log        *zap.Logger
	holder     *config.ReconcileConfigHolder
	provider   domain.Provider
	obsMetrics *obsmetrics.Metrics

	ch   chan domain.Message
	done chan struct{}
	idle chan struct{}
}

func NewQueue(p Params) *Queue {
	q := &Queue{
		log:        p.Log.Named("notifier.queue"),
		holder:     p.Holder,
		provider:   p.Provider,
		obsMetrics: p.ObsMetrics,
		ch:         make(chan domain.Message, p.Holder.Get().Notifier.QueueSize),
		done:       make(chan struct{}),
		idle:       make(chan struct{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go q.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(q.done)
			select {
			case <-q.idle:
			case <-ctx.Done():
			}
			return nil
		},
	})

	return q
}

// Enqueue hands a message to the delivery worker. A full queue drops the
// message rather than stalling the caller.
func (q *Queue) Enqueue(ctx context.Context, msg domain.Message) {
	if q == nil {
		return
	}
	select {
	case q.ch <- msg:
	default:
		q.log.Warn("notification queue full, dropping message",
			zap.String("order_id", msg.OrderID.String()),
			zap.String("payer_id", msg.PayerID),
		)
		q.obsMetrics.RecordNotification(ctx, "dropped")
	}
}

// Pending reports the number of undelivered messages. Tests poll it to wait
// for the worker to drain.
func (q *Queue) Pending() int {
	return len(q.ch)
}

func (q *Queue) run() {
	defer close(q.idle)
	for {
		select {
		case msg := <-q.ch:
			q.deliver(msg)
		case <-q.done:
			// Drain what was enqueued before shutdown.
			for {
				select {
				case msg := <-q.ch:
					q.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(msg domain.Message) {
	cfg := q.holder.Get().Notifier
	ctx := context.Background()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.Backoff

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = q.provider.Send(ctx, msg)
		if err == nil {
			q.obsMetrics.RecordNotification(ctx, "delivered")
			q.log.Info("notification delivered",
				zap.String("provider", q.provider.Name()),
				zap.String("order_id", msg.OrderID.String()),
				zap.String("payer_id", msg.PayerID),
				zap.Int("attempt", attempt),
			)
			return
		}
		if attempt < cfg.MaxAttempts {
			select {
			case <-time.After(expo.NextBackOff()):
			case <-q.done:
			}
		}
	}

	q.obsMetrics.RecordNotification(ctx, "failed")
	q.log.Error("notification abandoned after retries",
		zap.String("provider", q.provider.Name()),
		zap.String("order_id", msg.OrderID.String()),
		zap.Int("attempts", cfg.MaxAttempts),
		zap.Error(err),
	)
}
