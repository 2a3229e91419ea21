package payment

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type ledger struct {
	account Account
	seen    map[int32]bool
	history []Transaction
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*ledger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]*ledger{}}
}

// Put creates or replaces an account, keeping its history.
func (m *MemoryStore) Put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.PublicKey = slices.Clone(a.PublicKey)
	if l, ok := m.accounts[a.EmployeeID]; ok {
		l.account = a
		return
	}
	m.accounts[a.EmployeeID] = &ledger{account: a, seen: map[int32]bool{}}
}

func (m *MemoryStore) Account(ctx context.Context, employeeID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.accounts[employeeID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrNotFound, employeeID)
	}
	a := l.account
	a.PublicKey = slices.Clone(a.PublicKey)
	return a, nil
}

func (m *MemoryStore) Apply(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.accounts[tx.EmployeeID]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %q", ErrNotFound, tx.EmployeeID)
	}
	if l.seen[tx.Unique] {
		return Transaction{}, fmt.Errorf("%w: unique %d", ErrReplay, tx.Unique)
	}
	if int64(tx.Amount) > l.account.Balance {
		return Transaction{}, fmt.Errorf("%w: balance %d, amount %d", ErrInsufficientFunds, l.account.Balance, tx.Amount)
	}

	l.account.Balance -= int64(tx.Amount)
	l.seen[tx.Unique] = true
	tx.BalanceAfter = l.account.Balance
	l.history = append(l.history, tx)
	return tx, nil
}

// History returns the transactions applied to an account, oldest first.
func (m *MemoryStore) History(employeeID string) []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.accounts[employeeID]; ok {
		return slices.Clone(l.history)
	}
	return nil
}
