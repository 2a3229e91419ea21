package iso7816

// TRANSACTION:
// A Transaction represents the atomic unit of communication defined in ISO 7816-3:
// one Command APDU (C-APDU) sent by the terminal, followed by one Response APDU (R-APDU)
// sent back by the card.
//
// TRACE:
// A Trace is a chronological sequence of Transactions. A single logical command
// may need several physical exchanges:
// 1. "61 XX": the card has XX extra bytes, the terminal sends GET RESPONSE.
// 2. "6C XX": the terminal re-sends the command with Le = XX.
//
// IsSuccess() and Data() evaluate the whole conversation.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with 9000.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Status returns the status word of the final transaction, or SW_NONE.
func (t Trace) Status() StatusWord {
	last := t.Last()
	if last == nil || last.Response == nil {
		return SW_NONE
	}
	return last.Response.Status
}

// Data concatenates the response data delivered across a GET RESPONSE chain.
// Responses that only asked for a retry (6CXX) carry no data and are skipped.
func (t Trace) Data() []byte {
	var out []byte
	for i := range t {
		resp := t[i].Response
		if resp == nil || resp.Status.IsWrongLe() {
			continue
		}
		out = append(out, resp.Data...)
	}
	return out
}

// Response folds the trace into a single response: the chained data and the final status.
func (t Trace) Response() *ResponseAPDU {
	if len(t) == 0 {
		return EmptyResponse()
	}
	return &ResponseAPDU{Data: t.Data(), Status: t.Status()}
}
