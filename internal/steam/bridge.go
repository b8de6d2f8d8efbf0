package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skinvault/tradebot/internal/models"
)

const iconURLPrefix = "https://steamcommunity-a.akamaihd.net/economy/image/"

// Bridge implements Session against the bot-bridge sidecar, which holds the
// logged-in trading session. Inventory and offer submission go over HTTP;
// state changes arrive on a websocket stream.
type Bridge struct {
	baseURL   string
	token     string
	appID     int
	contextID int
	client    *http.Client
	logger    *zap.Logger

	events chan OfferStateChange
}

// NewBridge creates a bridge client. Call Run to start the state-change
// stream.
func NewBridge(baseURL, token string, appID, contextID int, timeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{
		baseURL:   baseURL,
		token:     token,
		appID:     appID,
		contextID: contextID,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		events:    make(chan OfferStateChange, 64),
	}
}

type inventoryResponse struct {
	OK    bool               `json:"ok"`
	Error string             `json:"error"`
	Items []models.TradeItem `json:"items"`
}

// FetchInventory returns the tradable inventory snapshot for a steam account.
func (b *Bridge) FetchInventory(ctx context.Context, steamID string) ([]models.TradeItem, error) {
	body, err := json.Marshal(map[string]interface{}{
		"steamId":   steamID,
		"appId":     b.appID,
		"contextId": b.contextID,
	})
	if err != nil {
		return nil, err
	}

	var resp inventoryResponse
	if err := b.post(ctx, "/inventory", body, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("bridge inventory error: %s", resp.Error)
	}

	// The bridge sends the raw icon hash; expose the full CDN URL.
	for i := range resp.Items {
		if resp.Items[i].IconURL != "" {
			resp.Items[i].IconURL = iconURLPrefix + resp.Items[i].IconURL
		}
	}
	return resp.Items, nil
}

type submitResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	SubmitResult
}

// SubmitOffer sends an offer through the bridge and returns the assigned
// offer id with its initial state.
func (b *Bridge) SubmitOffer(ctx context.Context, req OfferRequest) (SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, err
	}

	var resp submitResponse
	if err := b.post(ctx, "/offers", body, &resp); err != nil {
		return SubmitResult{}, err
	}
	if !resp.OK {
		return SubmitResult{}, fmt.Errorf("bridge submit error: %s", resp.Error)
	}
	return resp.SubmitResult, nil
}

// StateChanges returns the stream of raw offer-state-change events.
func (b *Bridge) StateChanges() <-chan OfferStateChange {
	return b.events
}

// Run maintains the websocket subscription to the bridge's state-change
// stream, reconnecting with backoff until ctx is canceled. It closes the
// events channel on return.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.events)

	backoff := time.Second
	for {
		if err := b.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("state-change stream lost, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (b *Bridge) stream(ctx context.Context) error {
	// Per-stream context so the unblock goroutine below exits when this
	// stream ends, not at process shutdown.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsURL := httpToWS(b.baseURL) + "/ws/offer-events"
	header := http.Header{}
	if b.token != "" {
		header.Set("X-Bridge-Token", b.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(streamCtx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial bridge stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()

	for {
		var ev OfferStateChange
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read state change: %w", err)
		}
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = time.Now()
		}
		select {
		case b.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("X-Bridge-Token", b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	return nil
}

func httpToWS(u string) string {
	switch {
	case len(u) >= 8 && u[:8] == "https://":
		return "wss://" + u[8:]
	case len(u) >= 7 && u[:7] == "http://":
		return "ws://" + u[7:]
	}
	return u
}
