// Package recon applies external offer-state changes to sell requests and
// the account ledger, exactly once per transition.
package recon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skinvault/tradebot/internal/db"
	"github.com/skinvault/tradebot/internal/models"
	"github.com/skinvault/tradebot/internal/steam"
	"github.com/skinvault/tradebot/internal/trade"
)

// Outcome classifies the result of reconciling one state-change event.
type Outcome string

const (
	// OutcomeApplied means the event caused a terminal transition.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyReconciled means the request was already terminal; the
	// event is a duplicate and was absorbed without effect.
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	// OutcomeNotFound means no sell request is linked to the offer.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeNoEffect means the status carries no ledger action (escrow,
	// unrecognized states).
	OutcomeNoEffect Outcome = "no_effect"
)

// Store is the transactional persistence the coordinator reconciles into.
// Implementations must lock the row before the terminal check and commit the
// status change and any balance mutation atomically.
type Store interface {
	ApplyAccepted(ctx context.Context, offerID string, lockedUntil time.Time) (*models.SellRequest, bool, error)
	ApplyCanceled(ctx context.Context, offerID string) (*models.SellRequest, bool, error)
}

// Notifier receives one notification per applied transition. Must not block.
type Notifier interface {
	Notify(offerID string, status trade.Status, raw steam.OfferState)
}

// Coordinator serializes and applies state-change events per offer id.
type Coordinator struct {
	store    Store
	notifier Notifier
	lockFor  time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator creates a coordinator. lockFor is the holding window set on
// accepted requests (lockedUntil = now + lockFor).
func NewCoordinator(store Store, notifier Notifier, lockFor time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		notifier: notifier,
		lockFor:  lockFor,
		logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
}

// Reconcile applies one domain-status observation for an offer. Events for
// the same offer are serialized in-process on top of the store's row lock,
// so two concurrent deliveries of the same terminal event produce the ledger
// effect at most once. The notifier is invoked exactly once per applied
// transition, after the transaction commits, with no locks held.
func (c *Coordinator) Reconcile(ctx context.Context, offerID string, status trade.Status, raw steam.OfferState) (Outcome, error) {
	if !status.Terminal() {
		c.logger.Info("offer state observed, no ledger effect",
			zap.String("offer_id", offerID), zap.String("status", string(status)), zap.Int("raw_state", int(raw)))
		return OutcomeNoEffect, nil
	}

	lock := c.offerLock(offerID)
	lock.Lock()

	var (
		req     *models.SellRequest
		applied bool
		err     error
	)
	if status == trade.StatusAccepted {
		req, applied, err = c.store.ApplyAccepted(ctx, offerID, time.Now().Add(c.lockFor))
	} else {
		req, applied, err = c.store.ApplyCanceled(ctx, offerID)
	}
	lock.Unlock()

	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// The offer may belong to another instance or predate tracking.
			c.dropOfferLock(offerID)
			c.logger.Warn("no sell request for offer", zap.String("offer_id", offerID))
			return OutcomeNotFound, nil
		}
		return "", err
	}

	// The request is terminal either way now; no later event for this offer
	// needs in-process serialization.
	c.dropOfferLock(offerID)

	if !applied {
		c.logger.Info("duplicate state change absorbed",
			zap.String("offer_id", offerID),
			zap.String("request_id", req.ID.String()),
			zap.String("request_status", req.Status))
		return OutcomeAlreadyReconciled, nil
	}

	if status == trade.StatusAccepted {
		c.logger.Info("sell request locked",
			zap.String("offer_id", offerID),
			zap.String("request_id", req.ID.String()),
			zap.String("total_price", req.TotalPrice.String()),
			zap.String("currency", req.Currency),
			zap.Timep("locked_until", req.LockedUntil))
	} else {
		c.logger.Info("sell request canceled",
			zap.String("offer_id", offerID),
			zap.String("request_id", req.ID.String()),
			zap.String("status", string(status)))
	}

	c.notifier.Notify(offerID, status, raw)
	return OutcomeApplied, nil
}

// Run consumes raw state-change events until the channel closes or ctx is
// canceled. One event's failure never stops processing of later, unrelated
// events.
func (c *Coordinator) Run(ctx context.Context, events <-chan steam.OfferStateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			status := trade.MapOfferState(ev.State)
			if _, err := c.Reconcile(ctx, ev.OfferID, status, ev.State); err != nil {
				c.logger.Error("reconciliation failed",
					zap.String("offer_id", ev.OfferID),
					zap.Int("raw_state", int(ev.State)),
					zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) offerLock(offerID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[offerID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[offerID] = lock
	}
	return lock
}

// dropOfferLock evicts the per-offer mutex so the map stays bounded by
// in-flight offers rather than growing forever. A straggler racing the
// eviction re-creates the mutex; the store's row lock still prevents a
// double apply in that window.
func (c *Coordinator) dropOfferLock(offerID string) {
	c.mu.Lock()
	delete(c.locks, offerID)
	c.mu.Unlock()
}
