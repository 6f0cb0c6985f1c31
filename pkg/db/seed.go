package db

import "context"

// Catalog upserts. These back the YAML catalog sync at startup; rows are
// keyed so repeated syncs stay idempotent.

// UpsertStakePlan inserts or refreshes a stake plan by id.
func (d *Database) UpsertStakePlan(ctx context.Context, p StakePlan) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO stake_plans (id, tier, apy, lock_days, min_stake, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			apy = excluded.apy,
			lock_days = excluded.lock_days,
			min_stake = excluded.min_stake,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Tier, p.APY, p.LockDays, p.MinStake, p.IsActive)
	return err
}

// UpsertMetalProduct inserts or refreshes a metals catalog entry by id.
func (d *Database) UpsertMetalProduct(ctx context.Context, p MetalProduct) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO metal_products (id, name, metal, weight_grams, premium_pct, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			metal = excluded.metal,
			weight_grams = excluded.weight_grams,
			premium_pct = excluded.premium_pct,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.Metal, p.WeightGrams, p.PremiumPct, p.IsActive)
	return err
}

// UpsertExchangePool inserts or refreshes a liquidity pool row by id.
func (d *Database) UpsertExchangePool(ctx context.Context, p ExchangePool) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO exchange_pools (id, pair, base_liquidity, quote_liquidity, apr, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			pair = excluded.pair,
			base_liquidity = excluded.base_liquidity,
			quote_liquidity = excluded.quote_liquidity,
			apr = excluded.apr,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Pair, p.BaseLiquidity, p.QuoteLiquidity, p.APR)
	return err
}

// UpsertForumCategory inserts or refreshes a forum category by id.
func (d *Database) UpsertForumCategory(ctx context.Context, c ForumCategory) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO forum_categories (id, name, description, position)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			position = excluded.position
	`, c.ID, c.Name, c.Description, c.Position)
	return err
}

// InsertElementIfAbsent seeds an unowned marketplace element. Existing rows
// are never touched so player ownership survives restarts.
func (d *Database) InsertElementIfAbsent(ctx context.Context, e Element) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO elements (id, name, rarity, owner_id, listed, price, created_at, updated_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.Name, e.Rarity, e.OwnerID, e.Listed, e.Price)
	return err
}
