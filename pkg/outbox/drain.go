package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/notify"
)

var nopLogger = zap.NewNop()

type DrainerOpts struct {
	// Store cannot be nil.
	Store Store

	// Endpoints maps a queue name to its delivery URL. A queue without
	// an endpoint is skipped with a warning.
	Endpoints map[string]string

	// Client defaults to a client with a 15 second timeout.
	Client *http.Client

	// Notifier receives one delivery confirmation per drain pass of a
	// user-facing queue. Default is notify.Nop.
	Notifier notify.Notifier

	Logger  *zap.Logger
	Metrics *DrainMetrics
}

func (opts *DrainerOpts) Init() error {
	if opts.Store == nil {
		return errors.New("nil outbox store")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = NewDrainMetrics(nil)
	}
	return nil
}

// Drainer delivers queued records to their endpoints. It does not care
// which trigger fired it: the foreground application, the connectivity
// probe and the periodic timer all call the same Drain.
type Drainer struct {
	opts DrainerOpts
}

func NewDrainer(opts DrainerOpts) (*Drainer, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Drainer{opts: opts}, nil
}

// Drain attempts delivery of every record in the queue, oldest first. A
// delivered record is deleted; a failed one stays for the next pass. Drain
// never fails as a unit: per-record errors are logged and counted only.
func (d *Drainer) Drain(ctx context.Context, queue string) (delivered, failed int) {
	endpoint, ok := d.opts.Endpoints[queue]
	if !ok || endpoint == "" {
		d.opts.Logger.Warn("no delivery endpoint for queue", zap.String("queue", queue))
		return 0, 0
	}

	records, err := d.opts.Store.List(ctx, queue)
	if err != nil {
		d.opts.Logger.Warn("outbox list failed", zap.String("queue", queue), zap.Error(err))
		return 0, 0
	}
	if len(records) == 0 {
		return 0, 0
	}

	for _, rec := range records {
		if err := d.deliver(ctx, endpoint, rec); err != nil {
			failed++
			d.opts.Metrics.Failed.WithLabelValues(queue).Inc()
			d.opts.Logger.Warn("outbox delivery failed",
				zap.String("queue", queue), zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if err := d.opts.Store.Delete(ctx, rec.ID); err != nil {
			// The record will be delivered again next pass; the
			// endpoints must tolerate duplicates anyway.
			d.opts.Logger.Warn("outbox delete failed",
				zap.String("queue", queue), zap.String("id", rec.ID), zap.Error(err))
		}
		delivered++
		d.opts.Metrics.Delivered.WithLabelValues(queue).Inc()
	}

	d.opts.Logger.Info("outbox drained",
		zap.String("queue", queue), zap.Int("delivered", delivered), zap.Int("failed", failed))

	if delivered > 0 && UserFacing(queue) {
		n := notify.Notification{
			Title: "Submission delivered",
			Body:  fmt.Sprintf("%d queued %s submission(s) reached the server.", delivered, queue),
			Tag:   "outbox-" + queue,
		}
		if err := d.opts.Notifier.Notify(ctx, n); err != nil {
			d.opts.Logger.Warn("delivery notification failed", zap.Error(err))
		}
	}
	return delivered, failed
}

// DrainAll drains every known queue.
func (d *Drainer) DrainAll(ctx context.Context) {
	for _, queue := range Queues {
		d.Drain(ctx, queue)
	}
}

func (d *Drainer) deliver(ctx context.Context, endpoint string, rec Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(rec.Payload))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return nil
}

type DrainMetrics struct {
	Delivered *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewDrainMetrics(reg prometheus.Registerer) *DrainMetrics {
	m := &DrainMetrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_delivered_total",
			Help: "Outbox records delivered per queue.",
		}, []string{"queue"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_failed_total",
			Help: "Outbox delivery attempts that failed per queue.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.Delivered, m.Failed)
	}
	return m
}
