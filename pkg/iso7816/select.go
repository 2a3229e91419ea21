package iso7816

// SELECT COMMAND LOGIC (ISO 7816-4):
// The SELECT command (INS 'A4') activates an on-card application.
//
// P1 = 0x04 selects by DF name, i.e. by Application Identifier (AID).
// P2 = 0x00 asks for the first or only occurrence and an FCI in return.
//
// The AID is sent as case 3 (Lc + data, no Le): on T=0 the card answers
// '61 XX' when it has an FCI to return, and the Client fetches it.

// SelectionMethod defines how the target is addressed (P1).
type SelectionMethod byte

const SelectByDFName SelectionMethod = 0x04 // Select by AID

// NewSelectCommand creates a SELECT command with P2 = 0x00.
func NewSelectCommand(cla Class, method SelectionMethod, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)
	return NewCommandAPDU(cla, ins, byte(method), 0x00, data, 0)
}

// SelectByAID creates the SELECT command used to activate an applet.
func SelectByAID(aid []byte) *CommandAPDU {
	return NewSelectCommand(ClassInterindustry, SelectByDFName, aid)
}
