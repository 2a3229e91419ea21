package iso7816

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gregLibert/staffcard/pkg/tlv"
)

// scriptedCard replays canned responses and records every command.
type scriptedCard struct {
	responses [][]byte
	sent      [][]byte
	err       error
}

func (s *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte(nil), cmd...))
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return []byte{0x6F, 0x00}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func TestClient_Send(t *testing.T) {
	t.Run("Plain 9000", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{tlv.Hex("AABB 9000")}}
		trace, err := NewClient(card).Send(SelectByAID([]byte{0x01}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !trace.IsSuccess() || len(trace) != 1 {
			t.Fatalf("unexpected trace: %+v", trace)
		}
	})

	t.Run("61XX triggers GET RESPONSE", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{
			tlv.Hex("6102"),
			tlv.Hex("C0DE 9000"),
		}}
		trace, err := NewClient(card).Send(SelectByAID([]byte{0x01}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(card.sent) != 2 || !bytes.Equal(card.sent[1], tlv.Hex("00C0000002")) {
			t.Fatalf("expected GET RESPONSE, sent %X", card.sent)
		}
		if !bytes.Equal(trace.Data(), tlv.Hex("C0DE")) {
			t.Errorf("Data() = %X", trace.Data())
		}
	})

	t.Run("6CXX re-issues with corrected Le", func(t *testing.T) {
		ins, _ := NewProprietaryInstruction(0x26, "GET_RETRIES")
		card := &scriptedCard{responses: [][]byte{
			tlv.Hex("6C01"),
			tlv.Hex("03 9000"),
		}}
		trace, err := NewClient(card).Send(NewCommandAPDU(ClassProprietary, ins, 0, 0, nil, 4))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(card.sent[1], tlv.Hex("8026000001")) {
			t.Errorf("retry = %X", card.sent[1])
		}
		if !bytes.Equal(trace.Data(), []byte{0x03}) {
			t.Errorf("Data() = %X", trace.Data())
		}
	})

	t.Run("Transport error", func(t *testing.T) {
		card := &scriptedCard{err: errors.New("reader removed")}
		if _, err := NewClient(card).Send(SelectByAID([]byte{0x01})); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Endless chain is bounded", func(t *testing.T) {
		card := &scriptedCard{}
		for i := 0; i < maxChain+5; i++ {
			card.responses = append(card.responses, tlv.Hex("6101"))
		}
		if _, err := NewClient(card).Send(SelectByAID([]byte{0x01})); err == nil {
			t.Error("expected chain limit error")
		}
	})
}
