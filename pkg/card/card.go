// Package card is the host-side entry point to a staff card. A Service
// composes the protocol engines over one Transport: identity record, activity
// log, wallet, avatar and PIN management.
//
// A Service performs no locking of its own; the Transport (pcsc.Session)
// serialises commands. Sensitive commands need a prior VerifyPIN in the same
// card session.
package card

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/auth"
	"github.com/gregLibert/staffcard/pkg/bulk"
	"github.com/gregLibert/staffcard/pkg/cardlog"
	"github.com/gregLibert/staffcard/pkg/channel"
	"github.com/gregLibert/staffcard/pkg/record"
)

// ReadLogsNe is the Le sent with READ_LOGS. Longer logs arrive through the
// GET RESPONSE chain.
const ReadLogsNe = 256

// Log texts written by the wallet operations.
const (
	TopUpText   = "Top-up"
	PaymentText = "Payment"
)

var ErrNoRecord = errors.New("card holds no employee record")

// PINRegistry records PIN changes in the back office.
type PINRegistry interface {
	PINChanged(ctx context.Context, employeeID string) error
}

// Service talks to one card.
type Service struct {
	transport applet.Transport
	auth      *auth.Authenticator
	bulk      *bulk.Engine
	decoder   cardlog.Decoder
	registry  PINRegistry
	now       func() time.Time
	log       *slog.Logger

	authOpts []auth.Option
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.log = l
		s.authOpts = append(s.authOpts, auth.WithLogger(l))
	}
}

// WithDefaultPIN forbids changing back to the issuance PIN.
func WithDefaultPIN(pin string) Option {
	return func(s *Service) { s.authOpts = append(s.authOpts, auth.WithDefaultPIN(pin)) }
}

// WithRand sets the challenge source used by Authenticate.
func WithRand(r io.Reader) Option {
	return func(s *Service) { s.authOpts = append(s.authOpts, auth.WithRand(r)) }
}

// WithRegistry reports successful PIN changes to r.
func WithRegistry(r PINRegistry) Option {
	return func(s *Service) { s.registry = r }
}

// WithClock sets the clock used for log timestamps and the decoder fallback.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(s *Service) {
		s.now = now
		s.decoder = cardlog.Decoder{Now: now, Location: loc}
	}
}

// New creates a Service. c is the channel cipher for PIN blocks and avatar chunks.
func New(t applet.Transport, c *channel.Cipher, opts ...Option) *Service {
	s := &Service{
		transport: t,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auth = auth.New(t, c, s.authOpts...)
	s.bulk = bulk.New(t, c, s.log)
	return s
}

// Authenticate runs the challenge-response against the card key.
func (s *Service) Authenticate() bool {
	return s.auth.Authenticate()
}

// VerifyPIN unlocks the card for the rest of the session.
func (s *Service) VerifyPIN(pin string) bool {
	return s.auth.VerifyPIN(pin)
}

// Retries returns the remaining PIN tries.
func (s *Service) Retries() auth.Reading {
	return s.auth.Retries()
}

// Balance returns the wallet balance in minor units.
func (s *Service) Balance() auth.Reading {
	return s.auth.Balance()
}

// ChangePIN changes the PIN on the card, then tells the registry. A registry
// failure after the card accepted the change is PinServerError: the card
// already holds the new PIN.
func (s *Service) ChangePIN(ctx context.Context, oldPIN, newPIN string) (auth.PinOutcome, error) {
	outcome, err := s.auth.ChangePIN(oldPIN, newPIN)
	if outcome != auth.PinOK || s.registry == nil {
		return outcome, err
	}

	emp, err := s.Employee()
	if err != nil {
		return auth.PinServerError, fmt.Errorf("identify card holder: %w", err)
	}
	if err := s.registry.PINChanged(ctx, emp.ID); err != nil {
		s.log.Error("PIN changed on card but not recorded", "employee", emp.ID, "error", err)
		return auth.PinServerError, err
	}
	return auth.PinOK, nil
}

// Employee reads the identity record.
func (s *Service) Employee() (record.Employee, error) {
	resp := s.transport.Transmit(applet.Command(applet.INS_READ_INFO, 0, 0, nil, record.Size))
	if err := applet.Check(applet.INS_READ_INFO, resp); err != nil {
		return record.Employee{}, err
	}
	emp, err := record.Decode(resp.Data)
	if err != nil {
		return record.Employee{}, err
	}
	if emp.IsEmpty() {
		return emp, ErrNoRecord
	}
	return emp, nil
}

// WriteEmployee replaces the identity record. Requires a verified PIN.
func (s *Service) WriteEmployee(e record.Employee) error {
	resp := s.transport.Transmit(applet.Command(applet.INS_WRITE_INFO, 0, 0, e.Encode(), 0))
	return applet.Check(applet.INS_WRITE_INFO, resp)
}

func (s *Service) appendLog(rec []byte, err error) error {
	if err != nil {
		return err
	}
	resp := s.transport.Transmit(applet.Command(applet.INS_APPEND_LOG, 0, 0, rec, 0))
	return applet.Check(applet.INS_APPEND_LOG, resp)
}

// AppendAccess logs a door event.
func (s *Service) AppendAccess(sub cardlog.Subtype, at time.Time, text string) error {
	return s.appendLog(cardlog.EncodeAccess(sub, at, text))
}

// AppendTransaction logs a wallet movement with the balance after it.
func (s *Service) AppendTransaction(sub cardlog.Subtype, at time.Time, amount, balance int32, text string) error {
	return s.appendLog(cardlog.EncodeTransaction(sub, at, amount, balance, text))
}

// Logs reads the whole log in card order, oldest first.
func (s *Service) Logs() ([]cardlog.Entry, error) {
	resp := s.transport.Transmit(applet.Command(applet.INS_READ_LOGS, 0, 0, nil, ReadLogsNe))
	if err := applet.Check(applet.INS_READ_LOGS, resp); err != nil {
		return nil, err
	}
	return s.decoder.Decode(resp.Data), nil
}

// AccessLogs returns the door events, newest first.
func (s *Service) AccessLogs() ([]cardlog.Entry, error) {
	entries, err := s.Logs()
	if err != nil {
		return nil, err
	}
	return cardlog.NewestFirst(cardlog.Filter(entries, cardlog.KindAccess)), nil
}

// Transactions returns the wallet movements, newest first.
func (s *Service) Transactions() ([]cardlog.Entry, error) {
	entries, err := s.Logs()
	if err != nil {
		return nil, err
	}
	return cardlog.NewestFirst(cardlog.Filter(entries, cardlog.KindTransaction)), nil
}

// TopUp credits the wallet and logs the movement. It returns the new balance.
func (s *Service) TopUp(amount int32) (int32, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("top-up amount must be positive, got %d", amount)
	}
	resp := s.transport.Transmit(applet.Command(applet.INS_TOP_UP, 0, 0, binary.BigEndian.AppendUint32(nil, uint32(amount)), 4))
	if err := applet.Check(applet.INS_TOP_UP, resp); err != nil {
		return 0, err
	}
	if len(resp.Data) < 4 {
		return 0, fmt.Errorf("top-up answer too short: %d bytes", len(resp.Data))
	}
	balance := int32(binary.BigEndian.Uint32(resp.Data))

	if err := s.AppendTransaction(cardlog.TransactionTopUp, s.now(), amount, balance, TopUpText); err != nil {
		s.log.Warn("top-up applied but not logged", "error", err)
	}
	return balance, nil
}

// Pay debits the wallet and returns the card's SHA-256 RSA signature over
// the payment, for the back office to verify. ts is a Unix time in seconds;
// unique must not repeat for this card.
func (s *Service) Pay(amount, ts, unique int32) ([]byte, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", amount)
	}
	data := make([]byte, 0, 12)
	data = binary.BigEndian.AppendUint32(data, uint32(amount))
	data = binary.BigEndian.AppendUint32(data, uint32(ts))
	data = binary.BigEndian.AppendUint32(data, uint32(unique))

	resp := s.transport.Transmit(applet.Command(applet.INS_PAY, 0, 0, data, 0))
	if err := applet.Check(applet.INS_PAY, resp); err != nil {
		return nil, err
	}
	sig := resp.Data

	if bal := s.Balance(); !bal.Assumed {
		at := time.Unix(int64(ts), 0).In(s.location())
		if err := s.AppendTransaction(cardlog.TransactionPayment, at, amount, int32(bal.Value), PaymentText); err != nil {
			s.log.Warn("payment applied but not logged", "error", err)
		}
	}
	return sig, nil
}

func (s *Service) location() *time.Location {
	if s.decoder.Location != nil {
		return s.decoder.Location
	}
	return time.Local
}

// UploadAvatar zero-pads the image to the block size and writes it.
func (s *Service) UploadAvatar(image []byte) (bulk.Report, error) {
	return s.bulk.Upload(bulk.Pad(image))
}

// DownloadAvatar reads the stored image, padding included. A short result
// means the read stopped early.
func (s *Service) DownloadAvatar() []byte {
	return s.bulk.Download()
}
