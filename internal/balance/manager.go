// Package balance tracks per-user cash wallets backing every paid operation.
package balance

import (
	"context"
	"fmt"
	"log"
	"sync"

	"kingdom-core/pkg/db"
)

// ErrInsufficientFunds is returned when a debit exceeds the available balance.
type ErrInsufficientFunds struct {
	Need float64
	Have float64
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient balance: need %.2f, have %.2f", e.Need, e.Have)
}

type wallet struct {
	available float64
	locked    float64
}

// Manager keeps all user wallets in memory and writes every change through
// to the wallets table. New users start with the configured initial balance.
type Manager struct {
	mu             sync.RWMutex
	wallets        map[string]*wallet
	store          *db.Database
	initialBalance float64
}

// NewManager creates a wallet manager seeded from the database.
func NewManager(ctx context.Context, store *db.Database, initialBalance float64) *Manager {
	m := &Manager{
		wallets:        make(map[string]*wallet),
		store:          store,
		initialBalance: initialBalance,
	}
	if store != nil {
		users, err := store.ListUsers(ctx, 10000, 0)
		if err != nil {
			log.Printf("❌ wallet seed: list users: %v", err)
			return m
		}
		for _, u := range users {
			w, err := store.GetWallet(ctx, u.ID)
			if err != nil {
				continue
			}
			m.wallets[u.ID] = &wallet{available: w.Available, locked: w.Locked}
		}
		log.Printf("💰 wallets seeded: %d users", len(m.wallets))
	}
	return m
}

// Ensure creates a wallet for a new user with the starting balance.
func (m *Manager) Ensure(ctx context.Context, userID string) {
	m.mu.Lock()
	if _, ok := m.wallets[userID]; ok {
		m.mu.Unlock()
		return
	}
	m.wallets[userID] = &wallet{available: m.initialBalance}
	m.mu.Unlock()
	m.persist(ctx, userID)
}

// Available returns the spendable balance for a user.
func (m *Manager) Available(userID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.wallets[userID]; ok {
		return w.available
	}
	return 0
}

// Locked returns the amount reserved against open orders.
func (m *Manager) Locked(userID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.wallets[userID]; ok {
		return w.locked
	}
	return 0
}

// Lock reserves funds against an open order.
func (m *Manager) Lock(ctx context.Context, userID string, amount float64) error {
	m.mu.Lock()
	w, ok := m.wallets[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no wallet for user %s", userID)
	}
	if amount > w.available {
		have := w.available
		m.mu.Unlock()
		return ErrInsufficientFunds{Need: amount, Have: have}
	}
	w.available -= amount
	w.locked += amount
	avail := w.available
	m.mu.Unlock()

	m.persist(ctx, userID)
	log.Printf("🔒 balance locked: user=%s %.2f (available: %.2f)", userID, amount, avail)
	return nil
}

// Unlock releases reserved funds back to available.
func (m *Manager) Unlock(ctx context.Context, userID string, amount float64) {
	m.mu.Lock()
	w, ok := m.wallets[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if amount > w.locked {
		amount = w.locked
	}
	w.locked -= amount
	w.available += amount
	m.mu.Unlock()

	m.persist(ctx, userID)
	log.Printf("🔓 balance unlocked: user=%s %.2f", userID, amount)
}

// DeductLocked consumes reserved funds once an order fills.
func (m *Manager) DeductLocked(ctx context.Context, userID string, amount float64) {
	m.mu.Lock()
	w, ok := m.wallets[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if amount > w.locked {
		amount = w.locked
	}
	w.locked -= amount
	m.mu.Unlock()

	m.persist(ctx, userID)
	log.Printf("💸 balance deducted: user=%s %.2f", userID, amount)
}

// Debit takes funds directly from available (mixer fees, purchases, stakes).
func (m *Manager) Debit(ctx context.Context, userID string, amount float64) error {
	m.mu.Lock()
	w, ok := m.wallets[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no wallet for user %s", userID)
	}
	if amount > w.available {
		have := w.available
		m.mu.Unlock()
		return ErrInsufficientFunds{Need: amount, Have: have}
	}
	w.available -= amount
	m.mu.Unlock()

	m.persist(ctx, userID)
	return nil
}

// Credit adds funds to available (sale proceeds, unstakes, rewards).
func (m *Manager) Credit(ctx context.Context, userID string, amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	w, ok := m.wallets[userID]
	if !ok {
		w = &wallet{}
		m.wallets[userID] = w
	}
	w.available += amount
	m.mu.Unlock()

	m.persist(ctx, userID)
}

func (m *Manager) persist(ctx context.Context, userID string) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	w, ok := m.wallets[userID]
	var snapshot db.Wallet
	if ok {
		snapshot = db.Wallet{UserID: userID, Available: w.available, Locked: w.locked}
	}
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := m.store.UpsertWallet(ctx, snapshot); err != nil {
		log.Printf("❌ wallet persist: user=%s: %v", userID, err)
	}
}
