package stock

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Service backed by a mutex-guarded map. It is used
// by tests and local development; production call sites use the PostgreSQL
// implementation in internal/repository.
type Memory struct {
	mu     sync.Mutex
	levels map[string]*Level
	audit  []AuditEntry
	now    func() time.Time
}

var _ Service = (*Memory)(nil)

// NewMemory creates an empty in-memory stock ledger.
func NewMemory() *Memory {
	return &Memory{
		levels: make(map[string]*Level),
		now:    time.Now,
	}
}

// Set installs the physical quantity for a product, clearing any holds.
func (m *Memory) Set(productID string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[productID] = &Level{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: m.now(),
	}
}

func (m *Memory) Reserve(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveLocked(productID, qty)
}

func (m *Memory) ReserveAll(_ context.Context, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every line before mutating anything so a late shortfall cannot
	// leave earlier lines held.
	for _, it := range items {
		l, ok := m.levels[it.ProductID]
		if !ok {
			return ErrProductNotFound
		}
		if l.Available() < it.Quantity {
			return &InsufficientStockError{
				ProductID: it.ProductID,
				Required:  it.Quantity,
				Available: l.Available(),
			}
		}
	}
	for _, it := range items {
		if err := m.reserveLocked(it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) reserveLocked(productID string, qty int) error {
	l, ok := m.levels[productID]
	if !ok {
		return ErrProductNotFound
	}
	if l.Available() < qty {
		return &InsufficientStockError{
			ProductID: productID,
			Required:  qty,
			Available: l.Available(),
		}
	}
	l.Reserved += qty
	l.UpdatedAt = m.now()
	m.auditLocked(productID, ActionReserve, qty)
	return nil
}

func (m *Memory) Unreserve(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.levels[productID]
	if !ok {
		return ErrProductNotFound
	}
	if l.Reserved < qty {
		return ErrOverRelease
	}
	l.Reserved -= qty
	l.UpdatedAt = m.now()
	m.auditLocked(productID, ActionUnreserve, qty)
	return nil
}

func (m *Memory) Purchase(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.levels[productID]
	if !ok {
		return ErrProductNotFound
	}
	if l.Reserved < qty || l.Quantity < qty {
		return &InsufficientStockError{
			ProductID: productID,
			Required:  qty,
			Available: min(l.Reserved, l.Quantity),
		}
	}
	l.Reserved -= qty
	l.Quantity -= qty
	l.UpdatedAt = m.now()
	m.auditLocked(productID, ActionPurchase, qty)
	return nil
}

func (m *Memory) Restore(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.levels[productID]
	if !ok {
		return ErrProductNotFound
	}
	l.Quantity += qty
	l.UpdatedAt = m.now()
	m.auditLocked(productID, ActionRestore, qty)
	return nil
}

func (m *Memory) Level(_ context.Context, productID string) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.levels[productID]
	if !ok {
		return Level{}, ErrProductNotFound
	}
	return *l, nil
}

// Audit returns a copy of the mutation history.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Memory) auditLocked(productID string, action Action, qty int) {
	m.audit = append(m.audit, AuditEntry{
		ProductID: productID,
		Action:    action,
		Quantity:  qty,
		At:        m.now(),
	})
}
