// Package notify delivers offer-state notifications to the order-management
// endpoint with bounded retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skinvault/tradebot/internal/steam"
	"github.com/skinvault/tradebot/internal/trade"
)

// Options configures a Dispatcher.
type Options struct {
	Endpoint     string
	Secret       string
	MaxAttempts  int
	BaseBackoff  time.Duration
	Timeout      time.Duration
	DrainTimeout time.Duration
}

type job struct {
	OfferID  string           `json:"offerId"`
	State    trade.Status     `json:"state"`
	RawState steam.OfferState `json:"rawState"`

	attempt int
}

// Dispatcher posts state-change notifications downstream. Enqueueing never
// blocks the caller; delivery runs on a single worker with exponential
// backoff, capped at MaxAttempts, after which the notification is dropped
// with an error log. The receiver treats (offerId, state) as its idempotency
// key, so a duplicate delivery is harmless.
type Dispatcher struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	queue  chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates and starts a dispatcher.
func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
		queue:  make(chan job, 256),
		cancel: cancel,
	}
	d.wg.Add(1)
	go d.worker(ctx)
	return d
}

// Notify enqueues a notification for delivery. Fire-and-forget: if the
// queue is full or the dispatcher is closed the notification is logged and
// discarded rather than blocking the reconciliation path.
func (d *Dispatcher) Notify(offerID string, status trade.Status, raw steam.OfferState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Error("dispatcher closed, dropping notification",
			zap.String("offer_id", offerID), zap.String("state", string(status)))
		return
	}
	select {
	case d.queue <- job{OfferID: offerID, State: status, RawState: raw}:
	default:
		d.logger.Error("notification queue full, dropping",
			zap.String("offer_id", offerID), zap.String("state", string(status)))
	}
}

// Close drains the queue before returning: pending notifications, including
// one waiting out a retry backoff, are still delivered. Only after
// DrainTimeout are the remaining jobs abandoned, with an error log.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.opts.DrainTimeout):
		d.logger.Error("drain deadline exceeded, abandoning pending notifications")
		d.cancel()
		<-done
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(ctx, j)
	}
}

// deliver attempts the notification, retrying in place with exponential
// backoff. A retried attempt carries the exact same payload.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	for {
		err := d.send(ctx, j)
		if err == nil {
			d.logger.Info("notification delivered",
				zap.String("offer_id", j.OfferID), zap.String("state", string(j.State)))
			return
		}

		j.attempt++
		if j.attempt >= d.opts.MaxAttempts {
			d.logger.Error("notification dropped after max attempts",
				zap.String("offer_id", j.OfferID),
				zap.String("state", string(j.State)),
				zap.Int("attempts", j.attempt),
				zap.Error(err))
			return
		}

		backoff := d.opts.BaseBackoff * time.Duration(1<<(j.attempt-1))
		d.logger.Warn("notification failed, retrying",
			zap.String("offer_id", j.OfferID),
			zap.Int("attempt", j.attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, j job) error {
	body, err := json.Marshal(j)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		d.opts.Endpoint+"/offer-state-changed", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", d.opts.Secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}

	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decode notification ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("notification endpoint rejected the event")
	}
	return nil
}
