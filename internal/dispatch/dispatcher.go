package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/queue"
)

// Dispatcher routes notifications to dataset queues.
type Dispatcher struct {
	sub       Subscriber
	updater   queue.Updater
	queues    []*queue.Queue
	byChannel map[string][]*queue.Queue
	channels  []string
	bootstrap bool
	onReject  func(channel string)
}

// Option configures a Dispatcher.
type Option func(*dispatcherConfig)

type dispatcherConfig struct {
	bootstrap bool
	onReject  func(channel string)
	gauge     func(dataset string) queue.Gauge
}

// WithBootstrap enables or disables the startup bulk rebuild. Enabled by
// default.
func WithBootstrap(enabled bool) Option {
	return func(c *dispatcherConfig) {
		c.bootstrap = enabled
	}
}

// WithRejectHook is called with the channel of every dropped payload.
func WithRejectHook(fn func(channel string)) Option {
	return func(c *dispatcherConfig) {
		c.onReject = fn
	}
}

// WithDepthGauges attaches a depth gauge to each dataset queue.
func WithDepthGauges(fn func(dataset string) queue.Gauge) Option {
	return func(c *dispatcherConfig) {
		c.gauge = fn
	}
}

// New creates a Dispatcher with one queue per dataset. Datasets are
// bootstrapped and subscribed in the order given.
func New(sub Subscriber, updater queue.Updater, datasets []*dataset.Dataset, opts ...Option) *Dispatcher {
	cfg := dispatcherConfig{bootstrap: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		sub:       sub,
		updater:   updater,
		byChannel: make(map[string][]*queue.Queue),
		bootstrap: cfg.bootstrap,
		onReject:  cfg.onReject,
	}
	for _, ds := range datasets {
		var qopts []queue.Option
		if cfg.gauge != nil {
			qopts = append(qopts, queue.WithDepthGauge(cfg.gauge(ds.Name)))
		}
		q := queue.New(ds, updater, qopts...)
		d.queues = append(d.queues, q)
		if _, seen := d.byChannel[ds.Channel]; !seen {
			d.channels = append(d.channels, ds.Channel)
		}
		d.byChannel[ds.Channel] = append(d.byChannel[ds.Channel], q)
	}
	return d
}

// Queues returns the dataset queues in configuration order.
func (d *Dispatcher) Queues() []*queue.Queue {
	return d.queues
}

// Run bootstraps, subscribes, and routes notifications until ctx is
// cancelled or the subscriber's stream ends. On return every queue has
// finished its in-flight update.
//
// Only a subscription failure is returned as an error.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.bootstrap {
		d.runBootstrap(ctx)
	} else {
		slog.Info("startup rebuild skipped")
	}

	for _, ch := range d.channels {
		if err := d.sub.Listen(ch); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	workers, wctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		workers.Go(func() error {
			_ = q.Run(wctx)
			return nil
		})
	}

	d.route(ctx)

	for _, q := range d.queues {
		q.Close()
	}
	return workers.Wait()
}

// runBootstrap performs one bulk rebuild per dataset and waits for all of
// them. Failures are logged; subscription proceeds regardless.
func (d *Dispatcher) runBootstrap(ctx context.Context) {
	slog.Info("startup rebuild", "datasets", len(d.queues))

	var g errgroup.Group
	for _, q := range d.queues {
		ds := q.Dataset()
		g.Go(func() error {
			if err := d.updater.Apply(context.WithoutCancel(ctx), ds, dataset.Bulk()); err != nil {
				slog.Error("startup rebuild failed", "dataset", ds.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) route(ctx context.Context) {
	stream := d.sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			return
		case n, ok := <-stream:
			if !ok {
				slog.Info("dispatcher stopping: notification stream closed")
				return
			}
			d.Dispatch(n)
		}
	}
}

// Dispatch routes one notification. A nil notification queues a bulk
// rebuild for every dataset.
func (d *Dispatcher) Dispatch(n *Notification) {
	if n == nil {
		slog.Warn("transport reconnected, queueing bulk rebuild for all datasets")
		for _, q := range d.queues {
			q.Enqueue(dataset.Bulk())
		}
		return
	}

	queues := d.byChannel[n.Channel]
	if len(queues) == 0 {
		slog.Debug("notification for unknown channel", "channel", n.Channel)
		return
	}

	ev, err := dataset.ParseEvent(n.Payload)
	if err != nil {
		slog.Warn("payload rejected",
			"channel", n.Channel,
			"payload", n.Payload,
			"error", err,
		)
		if d.onReject != nil {
			d.onReject(n.Channel)
		}
		return
	}

	for _, q := range queues {
		q.Enqueue(ev)
		slog.Debug("event queued",
			"dataset", q.Dataset().Name,
			"event", ev.String(),
			"pending", q.Len(),
		)
	}
}
