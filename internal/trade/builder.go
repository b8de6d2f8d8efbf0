package trade

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skinvault/tradebot/internal/models"
)

// OfferDescriptor describes an outbound offer. It is purely descriptive;
// submission happens through the trading session.
type OfferDescriptor struct {
	TradeURL string
	Items    []models.TradeItem
	Message  string
}

// AssetIDs returns the asset ids of the items in the offer.
func (d OfferDescriptor) AssetIDs() []string {
	ids := make([]string, len(d.Items))
	for i, item := range d.Items {
		ids[i] = item.AssetID
	}
	return ids
}

// BuildOffer validates the recipient trade URL and assembles an offer
// descriptor. Rejecting a malformed URL here avoids burning an API call on a
// submission the network would refuse anyway.
func BuildOffer(tradeURL string, items []models.TradeItem, message string) (OfferDescriptor, error) {
	if err := validateTradeURL(tradeURL); err != nil {
		return OfferDescriptor{}, err
	}
	if len(items) == 0 {
		return OfferDescriptor{}, fmt.Errorf("offer must contain at least one item")
	}
	return OfferDescriptor{TradeURL: tradeURL, Items: items, Message: message}, nil
}

// validateTradeURL checks the steamcommunity trade-offer URL shape:
// https://steamcommunity.com/tradeoffer/new/?partner=...&token=...
func validateTradeURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("trade URL required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid trade URL: %w", err)
	}
	if u.Scheme != "https" || u.Host != "steamcommunity.com" {
		return fmt.Errorf("trade URL must point to steamcommunity.com")
	}
	if !strings.HasPrefix(u.Path, "/tradeoffer/new") {
		return fmt.Errorf("not a trade offer URL")
	}
	q := u.Query()
	if q.Get("partner") == "" || q.Get("token") == "" {
		return fmt.Errorf("trade URL missing partner or token")
	}
	return nil
}
