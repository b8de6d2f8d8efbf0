package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skinvault/tradebot/internal/models"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("not found")

// ErrOfferLinked is returned when a trade offer id is already attached to a
// sell request (either this one or another).
var ErrOfferLinked = errors.New("trade offer already linked")

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist. The UNIQUE constraint on
// trade_offer_id is the storage-layer backstop for the one-offer-per-request
// invariant.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id             BIGSERIAL PRIMARY KEY,
			username       TEXT NOT NULL UNIQUE,
			password_hash  TEXT NOT NULL,
			steam_id       TEXT NOT NULL DEFAULT '',
			trade_url      TEXT NOT NULL DEFAULT '',
			locked_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS sell_requests (
			id             UUID PRIMARY KEY,
			user_id        BIGINT NOT NULL REFERENCES users(id),
			total_price    NUMERIC(18,2) NOT NULL,
			currency       TEXT NOT NULL,
			trade_offer_id TEXT UNIQUE,
			status         TEXT NOT NULL DEFAULT 'PENDING',
			locked_until   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS sell_requests_user_id_idx ON sell_requests (user_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash, steamID, tradeURL string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, steam_id, trade_url) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, username, password_hash, steam_id, trade_url, locked_balance, created_at",
		username, passwordHash, steamID, tradeURL).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.SteamID, &user.TradeURL, &user.LockedBalance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, steam_id, trade_url, locked_balance, created_at FROM users WHERE username = $1",
		username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.SteamID, &user.TradeURL, &user.LockedBalance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, steam_id, trade_url, locked_balance, created_at FROM users WHERE id = $1",
		id).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.SteamID, &user.TradeURL, &user.LockedBalance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateSellRequest inserts a new sell request in PENDING status with no
// offer linkage.
func (db *DB) CreateSellRequest(ctx context.Context, req *models.SellRequest) (*models.SellRequest, error) {
	if req.TotalPrice.IsNegative() || req.TotalPrice.IsZero() {
		return nil, fmt.Errorf("total price must be positive")
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("currency required")
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	created := &models.SellRequest{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO sell_requests (id, user_id, total_price, currency, status) VALUES ($1, $2, $3, $4, $5) "+
			"RETURNING id, user_id, total_price, currency, trade_offer_id, status, locked_until, created_at, updated_at",
		id, req.UserID, req.TotalPrice, req.Currency, models.StatusPending).Scan(
		&created.ID, &created.UserID, &created.TotalPrice, &created.Currency,
		&created.TradeOfferID, &created.Status, &created.LockedUntil, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sell request: %w", err)
	}
	return created, nil
}

// AttachTradeOffer records the trade offer id on a sell request. The offer
// id is set at most once per request; a second attach, or an offer id
// already linked elsewhere, returns ErrOfferLinked.
func (db *DB) AttachTradeOffer(ctx context.Context, requestID uuid.UUID, offerID string) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE sell_requests SET trade_offer_id = $1, updated_at = now() WHERE id = $2 AND trade_offer_id IS NULL",
		offerID, requestID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOfferLinked
		}
		return fmt.Errorf("failed to attach trade offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOfferLinked
	}
	return nil
}

// MarkSubmissionFailed cancels a still-pending sell request whose offer
// submission did not go through.
func (db *DB) MarkSubmissionFailed(ctx context.Context, requestID uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE sell_requests SET status = $1, updated_at = now() WHERE id = $2 AND status = $3",
		models.StatusCanceled, requestID, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel sell request: %w", err)
	}
	return nil
}

// GetSellRequestByOfferID retrieves the sell request linked to a trade offer
func (db *DB) GetSellRequestByOfferID(ctx context.Context, offerID string) (*models.SellRequest, error) {
	req := &models.SellRequest{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, user_id, total_price, currency, trade_offer_id, status, locked_until, created_at, updated_at "+
			"FROM sell_requests WHERE trade_offer_id = $1",
		offerID).Scan(
		&req.ID, &req.UserID, &req.TotalPrice, &req.Currency,
		&req.TradeOfferID, &req.Status, &req.LockedUntil, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sell request: %w", err)
	}
	return req, nil
}

// GetUserSellRequests retrieves all sell requests for a user
func (db *DB) GetUserSellRequests(ctx context.Context, userID int64) ([]models.SellRequest, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, total_price, currency, trade_offer_id, status, locked_until, created_at, updated_at "+
			"FROM sell_requests WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sell requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.SellRequest
	for rows.Next() {
		var req models.SellRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.TotalPrice, &req.Currency,
			&req.TradeOfferID, &req.Status, &req.LockedUntil, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sell request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ApplyAccepted transitions the sell request linked to offerID from PENDING
// to LOCKED and increments the owner's locked balance by the request's total
// price, in one transaction. The row is locked before the terminal check so
// concurrent deliveries of the same event cannot both pass it. Returns
// applied=false without mutating anything when the request is already
// terminal.
func (db *DB) ApplyAccepted(ctx context.Context, offerID string, lockedUntil time.Time) (*models.SellRequest, bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := lockSellRequest(ctx, tx, offerID)
	if err != nil {
		return nil, false, err
	}
	if req.Terminal() {
		return req, false, nil
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		"UPDATE sell_requests SET status = $1, locked_until = $2, updated_at = $3 WHERE id = $4",
		models.StatusLocked, lockedUntil, now, req.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock sell request: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE users SET locked_balance = locked_balance + $1 WHERE id = $2",
		req.TotalPrice, req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment locked balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	req.Status = models.StatusLocked
	req.LockedUntil = &lockedUntil
	req.UpdatedAt = now
	return req, true, nil
}

// ApplyCanceled transitions the sell request linked to offerID from PENDING
// to CANCELED. No balance mutation: funds are only locked on acceptance.
// Returns applied=false when the request is already terminal.
func (db *DB) ApplyCanceled(ctx context.Context, offerID string) (*models.SellRequest, bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := lockSellRequest(ctx, tx, offerID)
	if err != nil {
		return nil, false, err
	}
	if req.Terminal() {
		return req, false, nil
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		"UPDATE sell_requests SET status = $1, updated_at = $2 WHERE id = $3",
		models.StatusCanceled, now, req.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to cancel sell request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	req.Status = models.StatusCanceled
	req.UpdatedAt = now
	return req, true, nil
}

// lockSellRequest fetches the request linked to offerID with a row lock held
// for the rest of the transaction.
func lockSellRequest(ctx context.Context, tx pgx.Tx, offerID string) (*models.SellRequest, error) {
	req := &models.SellRequest{}
	err := tx.QueryRow(ctx,
		"SELECT id, user_id, total_price, currency, trade_offer_id, status, locked_until, created_at, updated_at "+
			"FROM sell_requests WHERE trade_offer_id = $1 FOR UPDATE",
		offerID).Scan(
		&req.ID, &req.UserID, &req.TotalPrice, &req.Currency,
		&req.TradeOfferID, &req.Status, &req.LockedUntil, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sell request: %w", err)
	}
	return req, nil
}
