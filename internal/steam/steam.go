// Package steam talks to the authenticated trading session. Login, 2FA and
// cookie management live in the bridge sidecar; this package only consumes
// the session it exposes.
package steam

import (
	"context"
	"time"

	"github.com/skinvault/tradebot/internal/models"
)

// OfferState is the trading network's raw offer-state enumeration. Values
// mirror ETradeOfferState and arrive on the wire as integers.
type OfferState int

const (
	StateInvalid                  OfferState = 1
	StateActive                   OfferState = 2
	StateAccepted                 OfferState = 3
	StateCountered                OfferState = 4
	StateExpired                  OfferState = 5
	StateCanceled                 OfferState = 6
	StateDeclined                 OfferState = 7
	StateInvalidItems             OfferState = 8
	StateCreatedNeedsConfirmation OfferState = 9
	StateCanceledBySecondFactor   OfferState = 10
	StateInEscrow                 OfferState = 11
)

// OfferStateChange is one raw state-change event for a sent offer.
type OfferStateChange struct {
	OfferID       string     `json:"offerId"`
	State         OfferState `json:"state"`
	PreviousState OfferState `json:"previousState"`
	ObservedAt    time.Time  `json:"observedAt"`
}

// SubmitResult is the trading network's acknowledgment of a sent offer.
type SubmitResult struct {
	OfferID string     `json:"offerId"`
	State   OfferState `json:"state"`
}

// OfferRequest describes an outbound offer for submission.
type OfferRequest struct {
	TradeURL string   `json:"tradeUrl"`
	AssetIDs []string `json:"assetids"`
	Message  string   `json:"message"`
}

// Session is a live, authenticated trading session. The engine accepts any
// implementation; tests use fakes, production uses Bridge.
type Session interface {
	FetchInventory(ctx context.Context, steamID string) ([]models.TradeItem, error)
	SubmitOffer(ctx context.Context, req OfferRequest) (SubmitResult, error)
	StateChanges() <-chan OfferStateChange
}
