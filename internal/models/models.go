package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered seller account
type User struct {
	ID            int64
	Username      string
	PasswordHash  string
	SteamID       string
	TradeURL      string
	LockedBalance decimal.Decimal // funds held during the lock period
	CreatedAt     time.Time
}

// SellRequest statuses. A request is created PENDING, moves to LOCKED only
// on a confirmed offer acceptance, and to CANCELED on any terminal
// non-acceptance. COMPLETED is the post-lock-period settlement state and is
// never entered by the reconciliation engine itself.
const (
	StatusPending   = "PENDING"
	StatusLocked    = "LOCKED"
	StatusCanceled  = "CANCELED"
	StatusCompleted = "COMPLETED"
	StatusExpired   = "EXPIRED"
)

// SellRequest is the order record for a user's intent to sell items.
// TradeOfferID is set at most once, after the trading network acknowledges
// the outbound offer, and is unique across all requests.
type SellRequest struct {
	ID           uuid.UUID
	UserID       int64
	TotalPrice   decimal.Decimal
	Currency     string
	TradeOfferID *string
	Status       string
	LockedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether no further reconciliation may touch the request.
func (s *SellRequest) Terminal() bool {
	return s.Status != StatusPending
}

// TradeItem is one tradable item from an inventory snapshot. It lives only
// for the duration of a single match/build operation and is never persisted.
type TradeItem struct {
	AssetID     string `json:"assetid"`
	ClassID     string `json:"classid"`
	DisplayName string `json:"market_hash_name"`
	IconURL     string `json:"icon,omitempty"`
	Tradable    bool   `json:"tradable"`
}
