package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kingdom-core/pkg/db"
)

const sampleCatalog = `
stake_plans:
  - id: bronze
    tier: bronze
    apy: 5
    lock_days: 30
    min_stake: 100
    is_active: true
metal_products:
  - id: gold-10g
    name: Gold Bar 10g
    metal: XAU
    weight_grams: 10
    premium_pct: 5
    is_active: true
exchange_pools:
  - id: btc-usdt
    pair: BTC/USDT
    base_liquidity: 120
    quote_liquidity: 7500000
    apr: 4.2
forum_categories:
  - id: general
    name: General
    description: Platform talk
    position: 1
elements:
  - id: aether-shard
    name: Aether Shard
    rarity: rare
    price: 100
    listed: true
`

func TestLoadAndSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.StakePlans) != 1 || f.StakePlans[0].Tier != "bronze" {
		t.Fatalf("stake plans: %+v", f.StakePlans)
	}

	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	if err := Sync(ctx, store, f); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Re-sync is idempotent.
	if err := Sync(ctx, store, f); err != nil {
		t.Fatalf("re-sync: %v", err)
	}

	plans, err := store.Queries().ListStakePlans(ctx)
	if err != nil {
		t.Fatalf("plans: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}
	pools, err := store.ListExchangePools(ctx)
	if err != nil {
		t.Fatalf("pools: %v", err)
	}
	if len(pools) != 1 || pools[0].Pair != "BTC/USDT" {
		t.Fatalf("pools: %+v", pools)
	}
	elements, err := store.Queries().ListMarketplaceElements(ctx)
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	if len(elements) != 1 {
		t.Fatalf("got %d listed elements, want 1", len(elements))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/catalog.yaml"); err == nil {
		t.Fatal("missing file should fail")
	}
}
