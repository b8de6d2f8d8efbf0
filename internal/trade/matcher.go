// Package trade holds the pure core of the engine: inventory matching,
// offer construction and offer-state classification.
package trade

import (
	"fmt"
	"sort"

	"github.com/skinvault/tradebot/internal/models"
)

// MatchResult is the outcome of resolving requested asset ids against an
// inventory snapshot. Either every requested id was found (Items holds one
// entry per id) or Missing lists the absent ids and Items is empty.
type MatchResult struct {
	Items   []models.TradeItem
	Missing []string
}

// Matched reports whether every requested id resolved to an item.
func (r MatchResult) Matched() bool {
	return len(r.Missing) == 0
}

// Match resolves requested asset ids against an inventory snapshot.
// Duplicate ids are deduplicated first. Matching is all-or-nothing: if any
// id is absent the whole match fails and no partial item list is returned,
// so a user is never offered an incomplete trade.
func Match(snapshot []models.TradeItem, requestedIDs []string) (MatchResult, error) {
	wanted := make(map[string]bool, len(requestedIDs))
	for _, id := range requestedIDs {
		if id != "" {
			wanted[id] = true
		}
	}
	if len(wanted) == 0 {
		return MatchResult{}, fmt.Errorf("at least one asset id required")
	}

	byAsset := make(map[string]models.TradeItem, len(snapshot))
	for _, item := range snapshot {
		byAsset[item.AssetID] = item
	}

	var missing []string
	items := make([]models.TradeItem, 0, len(wanted))
	for id := range wanted {
		item, ok := byAsset[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		items = append(items, item)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return MatchResult{Missing: missing}, nil
	}
	return MatchResult{Items: items}, nil
}
