// Package notify delivers outbound customer and operator messages off the request path.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/and161185/apinlero/internal/metrics"
	"go.uber.org/zap"
)

// Channel is the outbound medium.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Template names the message body to render.
type Template string

const (
	TemplateOrderPlaced        Template = "order_placed"
	TemplateOrderPlacedAdmin   Template = "order_placed_admin"
	TemplateOrderShipped       Template = "order_shipped"
	TemplateOrderDelivered     Template = "order_delivered"
	TemplateOrderCancelled     Template = "order_cancelled"
	TemplateOrderStatusChanged Template = "order_status_changed"
)

// Message is one outbound notification.
type Message struct {
	Channel  Channel
	To       string
	Template Template
	Data     map[string]string
}

// Notifier sends a single message.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct{ log *zap.Logger }

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

// Send logs the message.
func (n *LogNotifier) Send(_ context.Context, m Message) error {
	n.log.Info("notification",
		zap.String("channel", string(m.Channel)),
		zap.String("to", m.To),
		zap.String("template", string(m.Template)),
		zap.Any("data", m.Data),
	)
	return nil
}

// Options tune the dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per attempt
	Attempts  int
	Backoff   time.Duration // doubled after every failed attempt
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

// Dispatcher is a bounded in-process queue drained by a fixed worker pool.
// Messages still queued when the process exits are lost.
type Dispatcher struct {
	sender  Notifier
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

// NewDispatcher constructs a dispatcher; call Start before enqueuing.
func NewDispatcher(sender Notifier, log *zap.Logger, m *metrics.Metrics, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		sender:  sender,
		log:     log.With(zap.String("component", "notify")),
		metrics: m,
		opts:    opts,
		queue:   make(chan Message, opts.QueueSize),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.cancel = cancel
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(bg)
		}
		d.log.Info("dispatcher started", zap.Int("workers", d.opts.Workers))
	})
}

// Enqueue schedules a message without blocking. It reports false when the message was dropped.
func (d *Dispatcher) Enqueue(m Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped: dispatcher stopped", zap.String("template", string(m.Template)))
		return false
	}
	select {
	case d.queue <- m:
		return true
	default:
		d.metrics.NotificationDropped()
		d.log.Error("notification dropped: queue full",
			zap.String("template", string(m.Template)), zap.Int("queue_size", d.opts.QueueSize))
		return false
	}
}

// Stop closes the queue and waits for the workers to drain it. If ctx expires first,
// in-flight sends are cancelled and ctx.Err is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for m := range d.queue {
		d.deliver(ctx, m)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	log := d.log.With(zap.String("template", string(m.Template)), zap.String("channel", string(m.Channel)))
	backoff := d.opts.Backoff
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		err := d.attempt(ctx, m)
		if err == nil {
			d.metrics.Notification(string(m.Template), "sent")
			return
		}
		log.Warn("notification attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			d.metrics.Notification(string(m.Template), "cancelled")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	d.metrics.Notification(string(m.Template), "failed")
	log.Error("notification failed", zap.Int("attempts", d.opts.Attempts))
}

func (d *Dispatcher) attempt(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("notifier panic", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	return d.sender.Send(ctx, m)
}
