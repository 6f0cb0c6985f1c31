// Package catalog seeds platform reference data (stake plans, metals,
// liquidity pools, forum categories, starter elements) from a YAML file.
package catalog

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"kingdom-core/pkg/db"
)

// File is the top-level YAML structure.
type File struct {
	StakePlans      []StakePlan     `yaml:"stake_plans"`
	MetalProducts   []MetalProduct  `yaml:"metal_products"`
	ExchangePools   []ExchangePool  `yaml:"exchange_pools"`
	ForumCategories []ForumCategory `yaml:"forum_categories"`
	Elements        []Element       `yaml:"elements"`
}

type StakePlan struct {
	ID       string  `yaml:"id"`
	Tier     string  `yaml:"tier"`
	APY      float64 `yaml:"apy"`
	LockDays int     `yaml:"lock_days"`
	MinStake float64 `yaml:"min_stake"`
	IsActive bool    `yaml:"is_active"`
}

type MetalProduct struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Metal       string  `yaml:"metal"`
	WeightGrams float64 `yaml:"weight_grams"`
	PremiumPct  float64 `yaml:"premium_pct"`
	IsActive    bool    `yaml:"is_active"`
}

type ExchangePool struct {
	ID             string  `yaml:"id"`
	Pair           string  `yaml:"pair"`
	BaseLiquidity  float64 `yaml:"base_liquidity"`
	QuoteLiquidity float64 `yaml:"quote_liquidity"`
	APR            float64 `yaml:"apr"`
}

type ForumCategory struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Position    int    `yaml:"position"`
}

type Element struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Rarity string  `yaml:"rarity"`
	Price  float64 `yaml:"price"`
	Listed bool    `yaml:"listed"`
}

// Load reads the catalog from a YAML file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &f, nil
}

// Sync upserts the catalog into the database. Elements are insert-only so
// player ownership survives restarts.
func Sync(ctx context.Context, store *db.Database, f *File) error {
	for _, p := range f.StakePlans {
		err := store.UpsertStakePlan(ctx, db.StakePlan{
			ID: p.ID, Tier: p.Tier, APY: p.APY, LockDays: p.LockDays,
			MinStake: p.MinStake, IsActive: p.IsActive,
		})
		if err != nil {
			return fmt.Errorf("upsert stake plan %s: %w", p.ID, err)
		}
	}
	for _, p := range f.MetalProducts {
		err := store.UpsertMetalProduct(ctx, db.MetalProduct{
			ID: p.ID, Name: p.Name, Metal: p.Metal, WeightGrams: p.WeightGrams,
			PremiumPct: p.PremiumPct, IsActive: p.IsActive,
		})
		if err != nil {
			return fmt.Errorf("upsert metal product %s: %w", p.ID, err)
		}
	}
	for _, p := range f.ExchangePools {
		err := store.UpsertExchangePool(ctx, db.ExchangePool{
			ID: p.ID, Pair: p.Pair, BaseLiquidity: p.BaseLiquidity,
			QuoteLiquidity: p.QuoteLiquidity, APR: p.APR,
		})
		if err != nil {
			return fmt.Errorf("upsert pool %s: %w", p.ID, err)
		}
	}
	for _, c := range f.ForumCategories {
		err := store.UpsertForumCategory(ctx, db.ForumCategory{
			ID: c.ID, Name: c.Name, Description: c.Description, Position: c.Position,
		})
		if err != nil {
			return fmt.Errorf("upsert forum category %s: %w", c.ID, err)
		}
	}
	for _, e := range f.Elements {
		err := store.InsertElementIfAbsent(ctx, db.Element{
			ID: e.ID, Name: e.Name, Rarity: e.Rarity, Price: e.Price, Listed: e.Listed,
		})
		if err != nil {
			return fmt.Errorf("seed element %s: %w", e.ID, err)
		}
	}
	log.Printf("📚 catalog synced: %d plans, %d metals, %d pools, %d categories, %d elements",
		len(f.StakePlans), len(f.MetalProducts), len(f.ExchangePools), len(f.ForumCategories), len(f.Elements))
	return nil
}
