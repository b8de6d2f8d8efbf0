package trade

import "testing"

const validTradeURL = "https://steamcommunity.com/tradeoffer/new/?partner=1429196335&token=aabbccdd"

func TestBuildOffer(t *testing.T) {
	items := snapshot("a1", "a2")

	offer, err := BuildOffer(validTradeURL, items, "buyout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offer.TradeURL != validTradeURL {
		t.Errorf("trade URL not preserved")
	}
	if offer.Message != "buyout" {
		t.Errorf("message not preserved")
	}

	ids := offer.AssetIDs()
	if len(ids) != 2 || ids[0] != "a1" || ids[1] != "a2" {
		t.Errorf("unexpected asset ids: %v", ids)
	}
}

func TestBuildOffer_RejectsBadURLs(t *testing.T) {
	items := snapshot("a1")

	tests := []struct {
		name string
		url  string
	}{
		{"Empty", ""},
		{"Whitespace", "   "},
		{"WrongHost", "https://example.com/tradeoffer/new/?partner=1&token=x"},
		{"PlainHTTP", "http://steamcommunity.com/tradeoffer/new/?partner=1&token=x"},
		{"NotAnOfferPath", "https://steamcommunity.com/id/someone"},
		{"MissingToken", "https://steamcommunity.com/tradeoffer/new/?partner=1"},
		{"MissingPartner", "https://steamcommunity.com/tradeoffer/new/?token=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildOffer(tt.url, items, "msg"); err == nil {
				t.Errorf("expected error for %q", tt.url)
			}
		})
	}
}

func TestBuildOffer_RejectsEmptyItems(t *testing.T) {
	if _, err := BuildOffer(validTradeURL, nil, "msg"); err == nil {
		t.Error("expected error for empty item list")
	}
}
