package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skinvault/tradebot/internal/auth"
	"github.com/skinvault/tradebot/internal/db"
	"github.com/skinvault/tradebot/internal/models"
	"github.com/skinvault/tradebot/internal/steam"
	"github.com/skinvault/tradebot/internal/trade"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB           *db.DB
	Session      steam.Session
	AuthService  *auth.AuthService
	OfferMessage string
	Logger       *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(db *db.DB, session steam.Session, authService *auth.AuthService, offerMessage string, logger *zap.Logger) *Handler {
	return &Handler{DB: db, Session: session, AuthService: authService, OfferMessage: offerMessage, Logger: logger}
}

// writeEnvelope writes the boolean-ok envelope used by the inventory and
// offer endpoints.
func writeEnvelope(w http.ResponseWriter, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, msg string) {
	writeEnvelope(w, map[string]interface{}{"ok": false, "error": msg})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		SteamID  string `json:"steamId"`
		TradeURL string `json:"tradeUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.SteamID, req.TradeURL)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetInventory returns the tradable inventory snapshot for a steam account
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SteamID string `json:"steamId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "invalid request body")
		return
	}
	if req.SteamID == "" {
		writeFailure(w, "steamId required")
		return
	}

	items, err := h.Session.FetchInventory(r.Context(), req.SteamID)
	if err != nil {
		h.Logger.Error("inventory fetch failed", zap.String("steam_id", req.SteamID), zap.Error(err))
		writeFailure(w, "failed to load inventory")
		return
	}

	writeEnvelope(w, map[string]interface{}{
		"ok":    true,
		"count": len(items),
		"items": items,
	})
}

// CreateOffer matches requested assets against the user's live inventory,
// submits a trade offer, and records a pending sell request. The offer id is
// linked to the request only after the trading network acknowledges the
// submission; a failed submission leaves no linkage.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		SteamID    string          `json:"steamId"`
		TradeURL   string          `json:"tradeUrl"`
		AssetIDs   []string        `json:"assetIds"`
		TotalPrice decimal.Decimal `json:"totalPrice"`
		Currency   string          `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "invalid request body")
		return
	}
	if req.SteamID == "" || req.TradeURL == "" || len(req.AssetIDs) == 0 {
		writeFailure(w, "steamId, tradeUrl and assetIds required")
		return
	}

	snapshot, err := h.Session.FetchInventory(r.Context(), req.SteamID)
	if err != nil {
		h.Logger.Error("inventory fetch failed", zap.String("steam_id", req.SteamID), zap.Error(err))
		writeFailure(w, "failed to load inventory")
		return
	}

	match, err := trade.Match(snapshot, req.AssetIDs)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}
	if !match.Matched() {
		writeEnvelope(w, map[string]interface{}{
			"ok":      false,
			"error":   "requested items not found in inventory",
			"missing": match.Missing,
		})
		return
	}

	offer, err := trade.BuildOffer(req.TradeURL, match.Items, h.OfferMessage)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}

	sellReq, err := h.DB.CreateSellRequest(r.Context(), &models.SellRequest{
		UserID:     userID,
		TotalPrice: req.TotalPrice,
		Currency:   req.Currency,
	})
	if err != nil {
		h.Logger.Error("sell request creation failed", zap.Error(err))
		writeFailure(w, "failed to create sell request")
		return
	}

	result, err := h.Session.SubmitOffer(r.Context(), steam.OfferRequest{
		TradeURL: offer.TradeURL,
		AssetIDs: offer.AssetIDs(),
		Message:  offer.Message,
	})
	if err != nil {
		h.Logger.Error("offer submission failed",
			zap.String("request_id", sellReq.ID.String()), zap.Error(err))
		if cancelErr := h.DB.MarkSubmissionFailed(r.Context(), sellReq.ID); cancelErr != nil {
			h.Logger.Error("failed to cancel sell request after submission failure",
				zap.String("request_id", sellReq.ID.String()), zap.Error(cancelErr))
		}
		writeFailure(w, "failed to send trade offer")
		return
	}

	if err := h.DB.AttachTradeOffer(r.Context(), sellReq.ID, result.OfferID); err != nil {
		if errors.Is(err, db.ErrOfferLinked) {
			h.Logger.Error("offer id already linked",
				zap.String("offer_id", result.OfferID), zap.String("request_id", sellReq.ID.String()))
			writeFailure(w, "trade offer already linked to another sell request")
			return
		}
		h.Logger.Error("failed to attach trade offer",
			zap.String("offer_id", result.OfferID), zap.Error(err))
		writeFailure(w, "failed to record trade offer")
		return
	}

	h.Logger.Info("offer sent",
		zap.String("offer_id", result.OfferID),
		zap.String("request_id", sellReq.ID.String()),
		zap.Int("items", len(offer.Items)))

	writeEnvelope(w, map[string]interface{}{
		"ok":        true,
		"offerId":   result.OfferID,
		"status":    result.State,
		"requestId": sellReq.ID,
	})
}

// GetSellRequests retrieves the authenticated user's sell requests
func (h *Handler) GetSellRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	reqs, err := h.DB.GetUserSellRequests(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve sell requests"}`, http.StatusInternalServerError)
		return
	}

	type sellRequestView struct {
		ID           string  `json:"id"`
		TotalPrice   string  `json:"totalPrice"`
		Currency     string  `json:"currency"`
		TradeOfferID *string `json:"tradeOfferId"`
		Status       string  `json:"status"`
		LockedUntil  *string `json:"lockedUntil"`
	}

	views := make([]sellRequestView, 0, len(reqs))
	for _, req := range reqs {
		v := sellRequestView{
			ID:           req.ID.String(),
			TotalPrice:   req.TotalPrice.String(),
			Currency:     req.Currency,
			TradeOfferID: req.TradeOfferID,
			Status:       req.Status,
		}
		if req.LockedUntil != nil {
			s := req.LockedUntil.Format(time.RFC3339)
			v.LockedUntil = &s
		}
		views = append(views, v)
	}

	json.NewEncoder(w).Encode(views)
}
