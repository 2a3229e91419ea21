// Package pcsc is the transport adapter: it opens a reader session, selects
// the staff applet and exchanges APDUs with it.
package pcsc

import (
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/iso7816"
	"github.com/gregLibert/staffcard/pkg/tlv"
)

const (
	errFailedToConnect          = "failed to connect to reader"
	errFailedToDisconnect       = "failed to disconnect from reader"
	errFailedToEstablishContext = "failed to establish context"
	errFailedToListReaders      = "failed to list readers"
	errFailedToReleaseContext   = "failed to release context"
	errFailedToTransmit         = "failed to transmit APDU"
)

var (
	// ErrNoReader is returned when no reader is attached.
	ErrNoReader = errors.New("no smart card reader found")
	// ErrReaderBusy is returned when a session is already open on the reader.
	ErrReaderBusy = errors.New("reader already has an open session")
	// ErrSelectFailed is returned when the applet does not answer SELECT with 9000.
	ErrSelectFailed = errors.New("applet selection failed")
	// ErrNoCard is returned by a reader with no card present.
	ErrNoCard = errors.New("no card in reader")
)

// A physical reader carries at most one session per process.
var (
	openMu  sync.Mutex
	openSet = map[string]bool{}
)

// Options configure Connect.
type Options struct {
	// NameFilter prefers the first reader whose name contains it (case-insensitive).
	NameFilter string
	// AID of the applet to select. Defaults to applet.DefaultAID.
	AID []byte
	// Establish creates the PC/SC context. Defaults to SystemContext.
	Establish ContextFactory
	Logger    *slog.Logger
}

// AppInfo is what the applet disclosed in its SELECT answer.
type AppInfo struct {
	AID   []byte
	Label string
}

// Session is one physical presentment of a card: connected, applet selected.
// At most one command is outstanding at any time.
type Session struct {
	mu     sync.Mutex
	ctx    Context
	card   Card
	link   *applet.Link
	reader string
	info   AppInfo
	log    *slog.Logger
}

// ChooseReader returns the first reader whose name contains filter
// (case-insensitive), else the first reader. ok is false for an empty list.
func ChooseReader(readers []string, filter string) (reader string, ok bool) {
	if len(readers) == 0 {
		return "", false
	}
	if f := strings.ToLower(strings.TrimSpace(filter)); f != "" {
		for _, r := range readers {
			if strings.Contains(strings.ToLower(r), f) {
				return r, true
			}
		}
	}
	return readers[0], true
}

// Connect enumerates readers, connects to the preferred one and selects the applet.
func Connect(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	establish := opts.Establish
	if establish == nil {
		establish = SystemContext
	}
	aid := opts.AID
	if len(aid) == 0 {
		aid = applet.DefaultAID
	}

	ctx, err := establish()
	if err != nil {
		return nil, err
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		releaseQuietly(ctx, logger)
		return nil, err
	}
	reader, ok := ChooseReader(readers, opts.NameFilter)
	if !ok {
		releaseQuietly(ctx, logger)
		return nil, ErrNoReader
	}
	logger.Info("using reader", "reader", reader, "available", len(readers))

	if !claim(reader) {
		releaseQuietly(ctx, logger)
		return nil, errors.Wrapf(ErrReaderBusy, "reader %q", reader)
	}

	card, err := ctx.Connect(reader)
	if err != nil {
		release(reader)
		releaseQuietly(ctx, logger)
		return nil, err
	}

	s := &Session{
		ctx:    ctx,
		card:   card,
		link:   applet.NewLink(card, logger),
		reader: reader,
		log:    logger,
	}

	resp := s.link.Transmit(iso7816.SelectByAID(aid))
	if !resp.IsSuccess() {
		if err := s.Disconnect(); err != nil {
			logger.Warn("failed to disconnect after rejected select", "reader", reader, "error", err)
		}
		return nil, errors.Wrapf(ErrSelectFailed, "AID %X: %s", aid, resp.Status.Verbose())
	}
	s.info = parseSelectAnswer(aid, resp.Data)
	logger.Info("applet selected", "aid", strings.ToUpper(hex.EncodeToString(s.info.AID)), "label", s.info.Label)

	return s, nil
}

// Transmit sends one command. It never fails: a closed session or a reader
// error yields an empty response whose status is not 9000.
func (s *Session) Transmit(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.card == nil {
		s.log.Debug("transmit on closed session", "command", cmd.String())
		return iso7816.EmptyResponse()
	}
	return s.link.Transmit(cmd)
}

// Disconnect leaves the card, releases the context and frees the reader.
// Calling it more than once is harmless.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.card == nil {
		return nil
	}

	var firstErr error
	if err := s.card.Disconnect(); err != nil {
		firstErr = err
	}
	if err := s.ctx.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	release(s.reader)
	s.card = nil
	s.ctx = nil
	s.log.Info("session closed", "reader", s.reader)
	return firstErr
}

// Connected reports whether the session is still open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card != nil
}

// Reader returns the reader name the session is bound to.
func (s *Session) Reader() string {
	return s.reader
}

// Info returns what the applet disclosed on SELECT.
func (s *Session) Info() AppInfo {
	return s.info
}

func parseSelectAnswer(aid, fci []byte) AppInfo {
	info := AppInfo{AID: aid}
	if len(fci) == 0 {
		return info
	}
	if v, err := tlv.Find(fci, "6F", "84"); err == nil && len(v) > 0 {
		info.AID = v
	}
	if v, err := tlv.Find(fci, "6F", "A5", "50"); err == nil {
		info.Label = tlv.MakeSafeASCII(v)
	}
	return info
}

func claim(reader string) bool {
	openMu.Lock()
	defer openMu.Unlock()
	if openSet[reader] {
		return false
	}
	openSet[reader] = true
	return true
}

func release(reader string) {
	openMu.Lock()
	defer openMu.Unlock()
	delete(openSet, reader)
}

func releaseQuietly(ctx Context, logger *slog.Logger) {
	if err := ctx.Release(); err != nil {
		logger.Warn("failed to release context during error handling", "error", err)
	}
}
