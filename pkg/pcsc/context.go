package pcsc

import (
	"github.com/ebfe/scard"
	"github.com/pkg/errors"
)

// Context is the part of a PC/SC context the session needs. It exists so
// tests can enumerate fake readers.
type Context interface {
	ListReaders() ([]string, error)
	Connect(reader string) (Card, error)
	Release() error
}

// Card is a connected card in a reader.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect() error
}

// ContextFactory establishes a Context.
type ContextFactory func() (Context, error)

// SystemContext establishes a context on the system PC/SC service.
func SystemContext() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrap(err, errFailedToEstablishContext)
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	readers, err := c.ctx.ListReaders()
	if err != nil {
		return nil, listError(err)
	}
	return readers, nil
}

// listError maps the PC/SC "no readers" code to ErrNoReader so callers can
// tell an empty system from a failing service.
func listError(err error) error {
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return ErrNoReader
	}
	return errors.Wrap(err, errFailedToListReaders)
}

func (c *scardContext) Connect(reader string) (Card, error) {
	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors on some readers
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %q", errFailedToConnect, reader)
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) Release() error {
	if err := c.ctx.Release(); err != nil {
		return errors.Wrap(err, errFailedToReleaseContext)
	}
	return nil
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) Transmit(cmd []byte) ([]byte, error) {
	resp, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, errors.Wrap(err, errFailedToTransmit)
	}
	return resp, nil
}

func (c *scardCard) Disconnect() error {
	if err := c.card.Disconnect(scard.LeaveCard); err != nil {
		return errors.Wrap(err, errFailedToDisconnect)
	}
	return nil
}
