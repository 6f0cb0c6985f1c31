// Package db provides user-isolated database queries for multi-tenant access.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// ----------------------------------------
// Order / Trade / Holding queries
// ----------------------------------------

// OrderFilter narrows ListOrdersByUser results.
type OrderFilter struct {
	Symbol     string
	Status     string
	AssetClass string
	Limit      int
}

// ListOrdersByUser returns orders for a specific user, newest first.
func (q *UserQueries) ListOrdersByUser(ctx context.Context, userID string, f OrderFilter) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `
		SELECT id, user_id, symbol, asset_class, side, type, price, stop_price,
		       qty, COALESCE(filled_qty, 0), status, total_value, source, created_at, updated_at
		FROM orders
		WHERE user_id = ?`
	args := []any{userID}
	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.AssetClass != "" {
		query += " AND asset_class = ?"
		args = append(args, f.AssetClass)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.AssetClass, &o.Side, &o.Type,
			&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.Status, &o.TotalValue,
			&o.Source, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrderByUser returns an order by id, verifying ownership.
func (q *UserQueries) GetOrderByUser(ctx context.Context, userID, orderID string) (*Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var o Order
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, asset_class, side, type, price, stop_price,
		       qty, COALESCE(filled_qty, 0), status, total_value, source, created_at, updated_at
		FROM orders WHERE id = ? AND user_id = ?
	`, orderID, userID).Scan(&o.ID, &o.UserID, &o.Symbol, &o.AssetClass, &o.Side, &o.Type,
		&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.Status, &o.TotalValue,
		&o.Source, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// ListTradesByUser returns trades for a specific user.
func (q *UserQueries) ListTradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, symbol, side, price, qty, COALESCE(fee, 0), created_at
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Side, &t.Price, &t.Qty, &t.Fee, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListFilledOrdersByUserSymbol returns filled-order deltas for holding recompute.
func (q *UserQueries) ListFilledOrdersByUserSymbol(ctx context.Context, userID, symbol string) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, asset_class, side, type, price, stop_price,
		       qty, COALESCE(filled_qty, 0), status, total_value, source, created_at, updated_at
		FROM orders
		WHERE user_id = ? AND symbol = ? AND status IN ('filled','partially_filled')
		ORDER BY created_at ASC
	`, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query filled orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.AssetClass, &o.Side, &o.Type,
			&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.Status, &o.TotalValue,
			&o.Source, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListHoldingsByUser returns all holdings for a specific user.
func (q *UserQueries) ListHoldingsByUser(ctx context.Context, userID string) ([]Holding, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, qty, avg_price, total_invested, updated_at
		FROM holdings
		WHERE user_id = ?
		ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Qty, &h.AvgPrice, &h.TotalInvested, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// ----------------------------------------
// Mixer queries
// ----------------------------------------

// CreateMixingRequest inserts a new mixing request.
func (q *UserQueries) CreateMixingRequest(ctx context.Context, m MixingRequest) error {
	if m.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mixing_requests (id, user_id, currency, amount, fee, output_splits, status, delay_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, m.ID, m.UserID, m.Currency, m.Amount, m.Fee, m.OutputSplits, m.Status, m.DelaySeconds, m.CreatedAt)
	return err
}

// ListMixingRequestsByUser returns mixing requests for a user, newest first.
func (q *UserQueries) ListMixingRequestsByUser(ctx context.Context, userID string, limit int) ([]MixingRequest, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, currency, amount, fee, output_splits, status, delay_seconds,
		       created_at, started_at, completed_at
		FROM mixing_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query mixing requests: %w", err)
	}
	defer rows.Close()

	var res []MixingRequest
	for rows.Next() {
		var m MixingRequest
		if err := rows.Scan(&m.ID, &m.UserID, &m.Currency, &m.Amount, &m.Fee, &m.OutputSplits,
			&m.Status, &m.DelaySeconds, &m.CreatedAt, &m.StartedAt, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan mixing request: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// GetMixingRequestByUser returns one mixing request, verifying ownership.
func (q *UserQueries) GetMixingRequestByUser(ctx context.Context, userID, id string) (*MixingRequest, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var m MixingRequest
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, currency, amount, fee, output_splits, status, delay_seconds,
		       created_at, started_at, completed_at
		FROM mixing_requests WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&m.ID, &m.UserID, &m.Currency, &m.Amount, &m.Fee, &m.OutputSplits,
		&m.Status, &m.DelaySeconds, &m.CreatedAt, &m.StartedAt, &m.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query mixing request: %w", err)
	}
	return &m, nil
}

// ----------------------------------------
// Spectrum staking queries
// ----------------------------------------

// ListStakePlans returns active stake plans ordered by minimum stake.
func (q *UserQueries) ListStakePlans(ctx context.Context) ([]StakePlan, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tier, apy, lock_days, min_stake, is_active, created_at, updated_at
		FROM stake_plans WHERE is_active = 1
		ORDER BY min_stake ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stake plans: %w", err)
	}
	defer rows.Close()

	var plans []StakePlan
	for rows.Next() {
		var p StakePlan
		if err := rows.Scan(&p.ID, &p.Tier, &p.APY, &p.LockDays, &p.MinStake, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stake plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetStakePlan returns a plan by id, or ErrNotFound.
func (q *UserQueries) GetStakePlan(ctx context.Context, id string) (*StakePlan, error) {
	var p StakePlan
	err := q.db.QueryRowContext(ctx, `
		SELECT id, tier, apy, lock_days, min_stake, is_active, created_at, updated_at
		FROM stake_plans WHERE id = ?
	`, id).Scan(&p.ID, &p.Tier, &p.APY, &p.LockDays, &p.MinStake, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query stake plan: %w", err)
	}
	return &p, nil
}

// CreateStakePosition inserts a new stake position.
func (q *UserQueries) CreateStakePosition(ctx context.Context, p StakePosition) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stake_positions (id, user_id, plan_id, principal, accrued, status, started_at, last_accrual_at, unlocks_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.PlanID, p.Principal, p.Accrued, p.Status, p.StartedAt, p.LastAccrualAt, p.UnlocksAt)
	return err
}

// ListStakePositionsByUser returns a user's stake positions.
func (q *UserQueries) ListStakePositionsByUser(ctx context.Context, userID string) ([]StakePosition, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, plan_id, principal, accrued, status, started_at, last_accrual_at, unlocks_at
		FROM stake_positions
		WHERE user_id = ?
		ORDER BY started_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query stake positions: %w", err)
	}
	defer rows.Close()

	var res []StakePosition
	for rows.Next() {
		var p StakePosition
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Principal, &p.Accrued, &p.Status,
			&p.StartedAt, &p.LastAccrualAt, &p.UnlocksAt); err != nil {
			return nil, fmt.Errorf("scan stake position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetStakePositionByUser returns one position, verifying ownership.
func (q *UserQueries) GetStakePositionByUser(ctx context.Context, userID, id string) (*StakePosition, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var p StakePosition
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, plan_id, principal, accrued, status, started_at, last_accrual_at, unlocks_at
		FROM stake_positions WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&p.ID, &p.UserID, &p.PlanID, &p.Principal, &p.Accrued, &p.Status,
		&p.StartedAt, &p.LastAccrualAt, &p.UnlocksAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query stake position: %w", err)
	}
	return &p, nil
}

// ----------------------------------------
// Metals queries
// ----------------------------------------

// ListMetalProducts returns the active metals catalog.
func (q *UserQueries) ListMetalProducts(ctx context.Context) ([]MetalProduct, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, metal, weight_grams, premium_pct, is_active, updated_at
		FROM metal_products WHERE is_active = 1
		ORDER BY metal, weight_grams
	`)
	if err != nil {
		return nil, fmt.Errorf("query metal products: %w", err)
	}
	defer rows.Close()

	var res []MetalProduct
	for rows.Next() {
		var p MetalProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Metal, &p.WeightGrams, &p.PremiumPct, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metal product: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetMetalProduct returns a catalog entry by id, or ErrNotFound.
func (q *UserQueries) GetMetalProduct(ctx context.Context, id string) (*MetalProduct, error) {
	var p MetalProduct
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, metal, weight_grams, premium_pct, is_active, updated_at
		FROM metal_products WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Metal, &p.WeightGrams, &p.PremiumPct, &p.IsActive, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query metal product: %w", err)
	}
	return &p, nil
}

// CreateMetalHolding inserts a vaulted metal purchase.
func (q *UserQueries) CreateMetalHolding(ctx context.Context, h MetalHolding) error {
	if h.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO metal_holdings (id, user_id, product_id, qty, unit_cost, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, h.ID, h.UserID, h.ProductID, h.Qty, h.UnitCost, h.Status, h.CreatedAt)
	return err
}

// ListMetalHoldingsByUser returns a user's vaulted metals.
func (q *UserQueries) ListMetalHoldingsByUser(ctx context.Context, userID string) ([]MetalHolding, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, product_id, qty, unit_cost, status, created_at
		FROM metal_holdings
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query metal holdings: %w", err)
	}
	defer rows.Close()

	var res []MetalHolding
	for rows.Next() {
		var h MetalHolding
		if err := rows.Scan(&h.ID, &h.UserID, &h.ProductID, &h.Qty, &h.UnitCost, &h.Status, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metal holding: %w", err)
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// GetMetalHoldingByUser returns one vaulted holding, verifying ownership.
func (q *UserQueries) GetMetalHoldingByUser(ctx context.Context, userID, id string) (*MetalHolding, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var h MetalHolding
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, qty, unit_cost, status, created_at
		FROM metal_holdings WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&h.ID, &h.UserID, &h.ProductID, &h.Qty, &h.UnitCost, &h.Status, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query metal holding: %w", err)
	}
	return &h, nil
}

// CreateDeliveryRequest inserts a delivery request.
func (q *UserQueries) CreateDeliveryRequest(ctx context.Context, r DeliveryRequest) error {
	if r.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO delivery_requests (id, holding_id, user_id, address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, r.ID, r.HoldingID, r.UserID, r.Address, r.Status)
	return err
}

// ListDeliveryRequestsByUser returns a user's delivery requests.
func (q *UserQueries) ListDeliveryRequestsByUser(ctx context.Context, userID string) ([]DeliveryRequest, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, holding_id, user_id, address, status, created_at, updated_at
		FROM delivery_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query delivery requests: %w", err)
	}
	defer rows.Close()

	var res []DeliveryRequest
	for rows.Next() {
		var r DeliveryRequest
		if err := rows.Scan(&r.ID, &r.HoldingID, &r.UserID, &r.Address, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery request: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Ethereal element queries
// ----------------------------------------

// ListMarketplaceElements returns listed elements anyone can buy.
func (q *UserQueries) ListMarketplaceElements(ctx context.Context) ([]Element, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, rarity, COALESCE(owner_id, ''), listed, price, created_at, updated_at
		FROM elements WHERE listed = 1
		ORDER BY price ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query marketplace: %w", err)
	}
	defer rows.Close()
	return scanElements(rows)
}

// ListElementsByOwner returns a user's collection.
func (q *UserQueries) ListElementsByOwner(ctx context.Context, userID string) ([]Element, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, rarity, COALESCE(owner_id, ''), listed, price, created_at, updated_at
		FROM elements WHERE owner_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	defer rows.Close()
	return scanElements(rows)
}

// GetElement returns an element by id, or ErrNotFound.
func (q *UserQueries) GetElement(ctx context.Context, id string) (*Element, error) {
	var e Element
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, rarity, COALESCE(owner_id, ''), listed, price, created_at, updated_at
		FROM elements WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &e.Rarity, &e.OwnerID, &e.Listed, &e.Price, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query element: %w", err)
	}
	return &e, nil
}

func scanElements(rows *sql.Rows) ([]Element, error) {
	var res []Element
	for rows.Next() {
		var e Element
		if err := rows.Scan(&e.ID, &e.Name, &e.Rarity, &e.OwnerID, &e.Listed, &e.Price, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Trading bot queries
// ----------------------------------------

// CreateBot inserts a new trading bot.
func (q *UserQueries) CreateBot(ctx context.Context, b TradingBot) error {
	if b.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trading_bots (id, user_id, name, symbol, strategy, params, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, b.ID, b.UserID, b.Name, b.Symbol, b.Strategy, b.Params, b.IsActive)
	return err
}

// ListBotsByUser returns bots owned by a user.
func (q *UserQueries) ListBotsByUser(ctx context.Context, userID string) ([]TradingBot, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, name, symbol, strategy, params, is_active, created_at, updated_at
		FROM trading_bots WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()
	return scanBots(rows)
}

// ListActiveBots returns every active bot across users (runner input).
func (q *UserQueries) ListActiveBots(ctx context.Context) ([]TradingBot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, name, symbol, strategy, params, is_active, created_at, updated_at
		FROM trading_bots WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query active bots: %w", err)
	}
	defer rows.Close()
	return scanBots(rows)
}

func scanBots(rows *sql.Rows) ([]TradingBot, error) {
	var res []TradingBot
	for rows.Next() {
		var b TradingBot
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Symbol, &b.Strategy, &b.Params,
			&b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// GetBotByUser returns a bot by id, verifying ownership.
func (q *UserQueries) GetBotByUser(ctx context.Context, userID, botID string) (*TradingBot, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var b TradingBot
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, symbol, strategy, params, is_active, created_at, updated_at
		FROM trading_bots WHERE id = ? AND user_id = ?
	`, botID, userID).Scan(&b.ID, &b.UserID, &b.Name, &b.Symbol, &b.Strategy, &b.Params,
		&b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bot: %w", err)
	}
	return &b, nil
}

// SetBotActive toggles a bot; writing the same state twice is a no-op.
func (q *UserQueries) SetBotActive(ctx context.Context, userID, botID string, active bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE trading_bots
		SET is_active = ?, updated_at = CASE WHEN is_active != ? THEN CURRENT_TIMESTAMP ELSE updated_at END
		WHERE id = ? AND user_id = ?
	`, active, active, botID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBotExecutionsByUser returns recent bot executions for a user.
func (q *UserQueries) ListBotExecutionsByUser(ctx context.Context, userID string, limit int) ([]BotExecution, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, bot_id, user_id, symbol, action, qty, price, note, created_at
		FROM bot_executions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bot executions: %w", err)
	}
	defer rows.Close()

	var res []BotExecution
	for rows.Next() {
		var e BotExecution
		if err := rows.Scan(&e.ID, &e.BotID, &e.UserID, &e.Symbol, &e.Action, &e.Qty, &e.Price, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot execution: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ----------------------------------------
// WalletConnect queries
// ----------------------------------------

// CreateWalletSession inserts an external wallet session.
func (q *UserQueries) CreateWalletSession(ctx context.Context, s WalletSession) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO wallet_sessions (id, user_id, wallet, address, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
	`, s.ID, s.UserID, s.Wallet, s.Address, s.Status, s.ExpiresAt)
	return err
}

// ListWalletSessionsByUser returns a user's wallet sessions.
func (q *UserQueries) ListWalletSessionsByUser(ctx context.Context, userID string) ([]WalletSession, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, wallet, address, status, created_at, expires_at
		FROM wallet_sessions WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallet sessions: %w", err)
	}
	defer rows.Close()

	var res []WalletSession
	for rows.Next() {
		var s WalletSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Wallet, &s.Address, &s.Status, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan wallet session: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DisconnectWalletSession marks a session disconnected, verifying ownership.
func (q *UserQueries) DisconnectWalletSession(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE wallet_sessions SET status = 'disconnected'
		WHERE id = ? AND user_id = ? AND status = 'active'
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// KYC queries
// ----------------------------------------

// CreateKYCSubmission inserts a submission; one pending per user is enforced
// by the caller via GetPendingKYCByUser.
func (q *UserQueries) CreateKYCSubmission(ctx context.Context, s KYCSubmission) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO kyc_submissions (id, user_id, full_name, country, document_type,
			document_number_encrypted, key_version, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.ID, s.UserID, s.FullName, s.Country, s.DocumentType, s.DocumentNumberEnc, s.KeyVersion, s.Status, s.Note)
	return err
}

// GetLatestKYCByUser returns the most recent submission for a user, or ErrNotFound.
func (q *UserQueries) GetLatestKYCByUser(ctx context.Context, userID string) (*KYCSubmission, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var s KYCSubmission
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, country, document_type, document_number_encrypted,
		       key_version, status, note, created_at, reviewed_at
		FROM kyc_submissions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, userID).Scan(&s.ID, &s.UserID, &s.FullName, &s.Country, &s.DocumentType,
		&s.DocumentNumberEnc, &s.KeyVersion, &s.Status, &s.Note, &s.CreatedAt, &s.ReviewedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query kyc: %w", err)
	}
	return &s, nil
}

// ListKYCByStatus returns submissions for admin review.
func (q *UserQueries) ListKYCByStatus(ctx context.Context, status string, limit int) ([]KYCSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, full_name, country, document_type, document_number_encrypted,
		       key_version, status, note, created_at, reviewed_at
		FROM kyc_submissions WHERE status = ?
		ORDER BY created_at ASC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query kyc list: %w", err)
	}
	defer rows.Close()

	var res []KYCSubmission
	for rows.Next() {
		var s KYCSubmission
		if err := rows.Scan(&s.ID, &s.UserID, &s.FullName, &s.Country, &s.DocumentType,
			&s.DocumentNumberEnc, &s.KeyVersion, &s.Status, &s.Note, &s.CreatedAt, &s.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan kyc: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReviewKYC sets the review outcome on a pending submission.
func (q *UserQueries) ReviewKYC(ctx context.Context, id, status, note string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE kyc_submissions
		SET status = ?, note = ?, reviewed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`, status, note, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
