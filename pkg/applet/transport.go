package applet

import (
	"log/slog"

	"github.com/gregLibert/staffcard/pkg/iso7816"
)

// Transport exchanges one logical command with the selected applet.
//
// Transmit never fails: transport problems (no session, reader I/O) come back
// as iso7816.EmptyResponse(), whose status is never 9000. Callers interpret
// the status word themselves.
type Transport interface {
	Transmit(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU
}

// Link adapts a raw byte Transmitter (a PC/SC card, a simulator) to Transport.
// It is not safe for concurrent use; pcsc.Session serialises access.
type Link struct {
	client *iso7816.Client
	log    *slog.Logger
}

// NewLink wraps t. A nil logger falls back to slog.Default().
func NewLink(t iso7816.Transmitter, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{client: iso7816.NewClient(t), log: logger}
}

// Transmit sends cmd, following GET RESPONSE chains, and folds the result.
func (l *Link) Transmit(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	trace, err := l.client.Send(cmd)
	if err != nil {
		l.log.Debug("apdu exchange failed", "command", cmd.String(), "error", err)
		return iso7816.EmptyResponse()
	}

	resp := trace.Response()
	l.log.Debug("apdu exchange",
		"command", cmd.String(),
		"exchanges", len(trace),
		"response_len", len(resp.Data),
		"status", resp.Status.Verbose(),
	)
	return resp
}
