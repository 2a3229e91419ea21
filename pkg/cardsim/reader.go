package cardsim

import (
	"sync"

	"github.com/gregLibert/staffcard/pkg/pcsc"
)

// DefaultReader is the reader name the simulated context advertises.
const DefaultReader = "StaffCard Simulator 0"

// Reader exposes a Card through the pcsc.Context interface, so pcsc.Connect
// can open sessions on it exactly as on hardware.
type Reader struct {
	Card    *Card
	Names   []string // readers to advertise; the card sits in the last one
	mu      sync.Mutex
	present bool
}

// NewReader puts card in a reader named DefaultReader.
func NewReader(card *Card) *Reader {
	return &Reader{Card: card, Names: []string{DefaultReader}, present: true}
}

// Remove takes the card out: further transmissions fail.
func (r *Reader) Remove() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present = false
	r.Card.Reset()
}

// Establish satisfies pcsc.ContextFactory.
func (r *Reader) Establish() (pcsc.Context, error) {
	return r, nil
}

func (r *Reader) ListReaders() ([]string, error) {
	return r.Names, nil
}

func (r *Reader) Connect(name string) (pcsc.Card, error) {
	if len(r.Names) == 0 || name != r.Names[len(r.Names)-1] {
		return nil, pcsc.ErrNoCard
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.present {
		return nil, pcsc.ErrNoCard
	}
	return &slot{reader: r}, nil
}

func (r *Reader) Release() error { return nil }

type slot struct {
	reader *Reader
}

func (s *slot) Transmit(cmd []byte) ([]byte, error) {
	s.reader.mu.Lock()
	present := s.reader.present
	s.reader.mu.Unlock()
	if !present {
		return nil, pcsc.ErrNoCard
	}
	return s.reader.Card.Transmit(cmd)
}

func (s *slot) Disconnect() error {
	s.reader.Card.Reset()
	return nil
}
