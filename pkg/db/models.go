package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// User represents an application user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Wallet is the cash balance backing every paid operation.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Available float64   `json:"available"`
	Locked    float64   `json:"locked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order represents a ledger order row.
type Order struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	AssetClass string    `json:"asset_class"`
	Side       string    `json:"side"`
	Type       string    `json:"type"`
	Price      float64   `json:"price"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	Qty        float64   `json:"quantity"`
	FilledQty  float64   `json:"filled_quantity"`
	Status     string    `json:"status"`
	TotalValue float64   `json:"total_value"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Trade represents a fill stored in the DB.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"quantity"`
	Fee       float64   `json:"fee"`
	CreatedAt time.Time `json:"created_at"`
}

// Holding tracks aggregated ownership of a symbol per user.
type Holding struct {
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"quantity"`
	AvgPrice      float64   `json:"average_purchase_price"`
	TotalInvested float64   `json:"total_invested"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MixingRequest is a coin-mixing job owned by a single user.
type MixingRequest struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Currency     string     `json:"currency"`
	Amount       float64    `json:"amount"`
	Fee          float64    `json:"fee"`
	OutputSplits string     `json:"output_splits"`
	Status       string     `json:"status"`
	DelaySeconds int64      `json:"delay_seconds"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ExchangePool is a read-only liquidity pool row for the exchange page.
type ExchangePool struct {
	ID             string    `json:"id"`
	Pair           string    `json:"pair"`
	BaseLiquidity  float64   `json:"base_liquidity"`
	QuoteLiquidity float64   `json:"quote_liquidity"`
	APR            float64   `json:"apr"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StakePlan is a yield tier users can stake into.
type StakePlan struct {
	ID        string    `json:"id"`
	Tier      string    `json:"tier"`
	APY       float64   `json:"apy"`
	LockDays  int       `json:"lock_days"`
	MinStake  float64   `json:"min_stake"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StakePosition is a user's stake in a plan, accruing rewards server-side.
type StakePosition struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	PlanID        string    `json:"plan_id"`
	Principal     float64   `json:"principal"`
	Accrued       float64   `json:"accrued"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastAccrualAt time.Time `json:"last_accrual_at"`
	UnlocksAt     time.Time `json:"unlocks_at"`
}

// MetalProduct is a catalog entry for physical metals.
type MetalProduct struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Metal       string    `json:"metal"`
	WeightGrams float64   `json:"weight_grams"`
	PremiumPct  float64   `json:"premium_pct"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MetalHolding is purchased metal sitting in the vault.
type MetalHolding struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"quantity"`
	UnitCost  float64   `json:"unit_cost"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryRequest tracks physical delivery of a metal holding.
type DeliveryRequest struct {
	ID        string    `json:"id"`
	HoldingID string    `json:"holding_id"`
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Element is a collectible marketplace item.
type Element struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rarity    string    `json:"rarity"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Listed    bool      `json:"listed"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ElementTransfer is an ownership change record for an element.
type ElementTransfer struct {
	ID        string    `json:"id"`
	ElementID string    `json:"element_id"`
	FromUser  string    `json:"from_user,omitempty"`
	ToUser    string    `json:"to_user"`
	Price     float64   `json:"price"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// TradingBot is a user-owned automated trader.
type TradingBot struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Params    string    `json:"params"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BotExecution is one evaluation of an active bot.
type BotExecution struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Qty       float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession groups support chat messages.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a single message within a session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SecurityEvent records auth failures, rate-limit hits and admin actions.
type SecurityEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// ForumCategory groups forum threads.
type ForumCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// ForumThread is a top-level forum post.
type ForumThread struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Pinned     bool      `json:"pinned"`
	CreatedAt  time.Time `json:"created_at"`
}

// ForumReply is a reply within a thread.
type ForumReply struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// KYCSubmission stores identity verification data; document numbers are
// encrypted at rest.
type KYCSubmission struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	FullName          string     `json:"full_name"`
	Country           string     `json:"country"`
	DocumentType      string     `json:"document_type"`
	DocumentNumberEnc string     `json:"-"`
	KeyVersion        int        `json:"-"`
	Status            string     `json:"status"`
	Note              string     `json:"note"`
	CreatedAt         time.Time  `json:"created_at"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
}

// WalletSession is an external wallet connection.
type WalletSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Wallet    string    `json:"wallet"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by id or ErrNotFound.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListUsers returns users for the admin console.
func (d *Database) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// SetUserRole updates a user's role.
func (d *Database) SetUserRole(ctx context.Context, id, role string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertWallet stores the latest wallet balances for a user.
func (d *Database) UpsertWallet(ctx context.Context, w Wallet) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, locked, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			available = excluded.available,
			locked = excluded.locked,
			updated_at = CURRENT_TIMESTAMP
	`, w.UserID, w.Available, w.Locked)
	return err
}

// GetWallet returns the wallet row for a user, or ErrNotFound.
func (d *Database) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, available, locked, updated_at FROM wallets WHERE user_id = ?
	`, userID)
	var w Wallet
	if err := row.Scan(&w.UserID, &w.Available, &w.Locked, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, symbol, asset_class, side, type, price, stop_price,
			qty, filled_qty, status, total_value, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`,
		o.ID, o.UserID, o.Symbol, o.AssetClass, o.Side, o.Type, o.Price, o.StopPrice,
		o.Qty, o.FilledQty, o.Status, o.TotalValue, o.Source, o.CreatedAt,
	)
	return err
}

// GetOrder returns an order by id, or ErrNotFound.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, asset_class, side, type, price, stop_price,
		       qty, COALESCE(filled_qty, 0), status, total_value, source, created_at, updated_at
		FROM orders WHERE id = ?
	`, id)
	var o Order
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.AssetClass, &o.Side, &o.Type,
		&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.Status, &o.TotalValue,
		&o.Source, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatus sets the status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// UpdateOrderFill sets status, cumulative filled quantity and notional.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, filledQty, totalValue float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, total_value = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, filledQty, totalValue, id)
	return err
}

// ListOpenOrders returns resting orders across all users (fill engine recovery).
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, symbol, asset_class, side, type, price, stop_price,
		       qty, COALESCE(filled_qty, 0), status, total_value, source, created_at, updated_at
		FROM orders WHERE status IN ('open','partially_filled')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.AssetClass, &o.Side, &o.Type,
			&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.Status, &o.TotalValue,
			&o.Source, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, price, qty, fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.OrderID, t.UserID, t.Symbol, t.Side, t.Price, t.Qty, t.Fee, t.CreatedAt)
	return err
}

// UpsertHolding stores the aggregated holding for a user/symbol.
func (d *Database) UpsertHolding(ctx context.Context, h Holding) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO holdings (user_id, symbol, qty, avg_price, total_invested, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			total_invested = excluded.total_invested,
			updated_at = CURRENT_TIMESTAMP
	`, h.UserID, h.Symbol, h.Qty, h.AvgPrice, h.TotalInvested)
	return err
}

// ListHoldings returns all holdings across users (startup seeding).
func (d *Database) ListHoldings(ctx context.Context) ([]Holding, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, symbol, qty, avg_price, total_invested, updated_at
		FROM holdings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Qty, &h.AvgPrice, &h.TotalInvested, &h.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListExchangePools returns all liquidity pools.
func (d *Database) ListExchangePools(ctx context.Context) ([]ExchangePool, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, pair, base_liquidity, quote_liquidity, apr, updated_at
		FROM exchange_pools ORDER BY pair`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ExchangePool
	for rows.Next() {
		var p ExchangePool
		if err := rows.Scan(&p.ID, &p.Pair, &p.BaseLiquidity, &p.QuoteLiquidity, &p.APR, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
