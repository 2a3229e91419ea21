package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a driver over the physical connection. It handles the
// ISO 7816-3 transport behaviors that T=0 readers expose to the application layer:
//
// 1. "61 XX" (Response Available):
//    The client sends GET RESPONSE with Le = XX and appends the result.
//
// 2. "6C XX" (Wrong Length):
//    The client re-sends the original command with Le = XX.
//
// Chains are bounded by maxChain so that a misbehaving card cannot loop the host.

const maxChain = 32

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	return c.send(cmd, 0)
}

func (c *Client) send(cmd *CommandAPDU, depth int) (Trace, error) {
	if depth > maxChain {
		return nil, fmt.Errorf("response chain exceeded %d exchanges", maxChain)
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	var next *CommandAPDU
	switch {
	case resp.Status.IsResponseAvailable():
		// GET RESPONSE must use the same logical channel as the original command.
		respCls := cmd.Class
		respCls.IsChained = false

		ins, _ := NewInstruction(INS_GET_RESPONSE)
		ne := int(resp.Status.SW2())
		if ne == 0 {
			ne = MaxShortLe
		}
		next = NewCommandAPDU(respCls, ins, 0x00, 0x00, nil, ne)

	case resp.Status.IsWrongLe():
		retry := *cmd
		retry.Ne = int(resp.Status.SW2())
		if retry.Ne == 0 {
			retry.Ne = MaxShortLe
		}
		next = &retry
	}

	if next == nil {
		return trace, nil
	}

	subTrace, err := c.send(next, depth+1)
	if err != nil {
		return trace, err
	}
	return append(trace, subTrace...), nil
}
