// Package payment is the back-office ledger for card payments. A payment is
// applied only after the card's signature over it verifies against the key
// registered for the employee; a rejected payment never touches the balance.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gregLibert/staffcard/pkg/sigverify"
)

var (
	ErrBadRequest        = errors.New("bad payment request")
	ErrNotFound          = errors.New("account not found")
	ErrReplay            = errors.New("payment already applied")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is an employee wallet as the back office sees it. PublicKey is the
// card key in sigverify's length-prefixed form.
type Account struct {
	EmployeeID string
	Balance    int64
	PublicKey  []byte
}

// Transaction is an applied debit.
type Transaction struct {
	ID           uuid.UUID
	EmployeeID   string
	Amount       int32
	Timestamp    int32
	Unique       int32
	BalanceAfter int64
	AppliedAt    time.Time
}

// Store persists accounts. Apply must be atomic: it rejects a unique number
// already applied for the employee with ErrReplay and an amount above the
// balance with ErrInsufficientFunds, and otherwise debits and records tx,
// filling tx.BalanceAfter.
type Store interface {
	Account(ctx context.Context, employeeID string) (Account, error)
	Apply(ctx context.Context, tx Transaction) (Transaction, error)
}

// Request is a payment as submitted by a terminal.
type Request struct {
	EmployeeID string
	Amount     int32
	Timestamp  int32
	Unique     int32
	Signature  []byte
}

func (r Request) validate() error {
	switch {
	case r.EmployeeID == "":
		return fmt.Errorf("%w: missing employee id", ErrBadRequest)
	case len(r.EmployeeID) > sigverify.IDSize:
		return fmt.Errorf("%w: employee id longer than %d bytes", ErrBadRequest, sigverify.IDSize)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive, got %d", ErrBadRequest, r.Amount)
	case len(r.Signature) == 0:
		return fmt.Errorf("%w: missing signature", ErrBadRequest)
	}
	return nil
}

// Receipt confirms an applied payment.
type Receipt struct {
	ID         uuid.UUID
	EmployeeID string
	Amount     int32
	Balance    int64
}

// Service applies payments. It holds no mutable state and is safe for
// concurrent use when the Store is.
type Service struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// NewService creates a Service. A nil logger falls back to slog.Default().
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, log: logger}
}

// Pay verifies and applies r. Errors are ErrBadRequest, ErrNotFound,
// *sigverify.SecurityError, ErrReplay or ErrInsufficientFunds, possibly
// wrapped; test with errors.Is and errors.As.
func (s *Service) Pay(ctx context.Context, r Request) (Receipt, error) {
	if err := r.validate(); err != nil {
		return Receipt{}, err
	}

	acct, err := s.store.Account(ctx, r.EmployeeID)
	if err != nil {
		return Receipt{}, err
	}

	if err := sigverify.Check(r.Signature, []byte(r.EmployeeID), r.Amount, r.Timestamp, r.Unique, acct.PublicKey); err != nil {
		s.log.Warn("payment refused", "employee", r.EmployeeID, "unique", r.Unique, "error", err)
		return Receipt{}, err
	}

	tx, err := s.store.Apply(ctx, Transaction{
		ID:         uuid.New(),
		EmployeeID: r.EmployeeID,
		Amount:     r.Amount,
		Timestamp:  r.Timestamp,
		Unique:     r.Unique,
		AppliedAt:  s.now(),
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("payment applied", "employee", tx.EmployeeID, "amount", tx.Amount, "balance", tx.BalanceAfter, "tx", tx.ID)
	return Receipt{ID: tx.ID, EmployeeID: tx.EmployeeID, Amount: tx.Amount, Balance: tx.BalanceAfter}, nil
}
