// Package cardsim is an in-memory staff applet. It answers raw APDUs the way
// the card does, so the host stack can run end to end without a reader: in
// tests, and behind the CLI's simulate switch.
package cardsim

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/bulk"
	"github.com/gregLibert/staffcard/pkg/cardlog"
	"github.com/gregLibert/staffcard/pkg/channel"
	"github.com/gregLibert/staffcard/pkg/iso7816"
	"github.com/gregLibert/staffcard/pkg/record"
	"github.com/gregLibert/staffcard/pkg/sigverify"
	"github.com/gregLibert/staffcard/pkg/tlv"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultLabel   = "STAFF"
	DefaultPIN     = "123456"
	DefaultRetries = 3
	DefaultLogSize = 64
	modulusBits    = 8 * 128
	maxResponse    = 256
)

// Config seeds a simulated card.
type Config struct {
	AID     []byte
	Label   string
	Key     []byte // AES channel key, required
	PIN     string
	Retries int
	Balance int32
	// RSAKey is generated when nil. It must have a 1024-bit modulus.
	RSAKey   *rsa.PrivateKey
	Employee record.Employee
	// LogSize is the number of log slots. The oldest record is dropped when full.
	LogSize int
}

// Card is the simulated applet. It implements iso7816.Transmitter and is safe
// for concurrent use.
type Card struct {
	mu sync.Mutex

	aid     []byte
	fci     []byte
	cipher  *channel.Cipher
	key     *rsa.PrivateKey
	pin     []byte
	tries   int
	left    int
	balance int32
	info    []byte
	logs    [][]byte
	logSize int
	avatar  []byte

	selected bool
	unlocked bool
	pending  []byte
}

// New creates a card from cfg.
func New(cfg Config) (*Card, error) {
	c, err := channel.New(cfg.Key)
	if err != nil {
		return nil, err
	}

	if cfg.AID == nil {
		cfg.AID = applet.DefaultAID
	}
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.PIN == "" {
		cfg.PIN = DefaultPIN
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = DefaultLogSize
	}
	if cfg.RSAKey == nil {
		if cfg.RSAKey, err = rsa.GenerateKey(rand.Reader, modulusBits); err != nil {
			return nil, fmt.Errorf("card key: %w", err)
		}
	}
	if cfg.RSAKey.N.BitLen() != modulusBits {
		return nil, fmt.Errorf("card key must be %d bits, got %d", modulusBits, cfg.RSAKey.N.BitLen())
	}

	pin, err := pinBlock(cfg.PIN)
	if err != nil {
		return nil, err
	}
	fci, err := tlv.EncodeFCI(cfg.AID, cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("select answer: %w", err)
	}

	return &Card{
		aid:     cfg.AID,
		fci:     fci,
		cipher:  c,
		key:     cfg.RSAKey,
		pin:     pin,
		tries:   cfg.Retries,
		left:    cfg.Retries,
		balance: cfg.Balance,
		info:    cfg.Employee.Encode(),
		logSize: cfg.LogSize,
	}, nil
}

// pinBlock is kept apart from the host-side builder so the simulator does not
// depend on the code it checks.
func pinBlock(pin string) ([]byte, error) {
	if len(pin) == 0 || len(pin) > 16 {
		return nil, fmt.Errorf("simulated PIN must be 1 to 16 bytes")
	}
	b := bytes.Repeat([]byte{0xFF}, 16)
	copy(b, pin)
	return b, nil
}

// PublicKey returns the card's public key.
func (c *Card) PublicKey() *rsa.PublicKey {
	return &c.key.PublicKey
}

// Balance returns the wallet balance held by the card.
func (c *Card) Balance() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Reset drops the applet selection and the PIN unlock, as a card removal does.
func (c *Card) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = false
	c.unlocked = false
	c.pending = nil
}

// Tombstone blanks log slot i. Cards leave such holes after an interrupted append.
func (c *Card) Tombstone(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= 0 && i < len(c.logs) {
		c.logs[i] = make([]byte, cardlog.RecordSize)
	}
}

// Transmit answers one raw command APDU.
func (c *Card) Transmit(raw []byte) ([]byte, error) {
	cmd, err := parseCommand(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd.ins != iso7816.INS_GET_RESPONSE {
		c.pending = nil
	}
	data, sw := c.dispatch(cmd)
	return c.respond(data, sw, cmd.ne), nil
}

// respond splits long answers into a 61xx chain served by GET RESPONSE.
func (c *Card) respond(data []byte, sw iso7816.StatusWord, ne int) []byte {
	limit := maxResponse
	if ne > 0 && ne < limit {
		limit = ne
	}
	if sw == iso7816.SW_NO_ERROR && len(data) > limit {
		c.pending = append([]byte(nil), data[limit:]...)
		data = data[:limit]
		sw = iso7816.NewStatusWord(0x61, byte(min(len(c.pending), maxResponse)))
	}
	out := append([]byte(nil), data...)
	return append(out, sw.SW1(), sw.SW2())
}

type command struct {
	cla, p1, p2 byte
	ins         iso7816.InsCode
	data        []byte
	ne          int
}

// parseCommand decodes the four short APDU cases.
func parseCommand(raw []byte) (command, error) {
	if len(raw) < 4 {
		return command{}, fmt.Errorf("command too short: %d bytes", len(raw))
	}
	cmd := command{cla: raw[0], ins: iso7816.InsCode(raw[1]), p1: raw[2], p2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
	case len(body) == 1:
		cmd.ne = le(body[0])
	default:
		lc := int(body[0])
		switch len(body) {
		case 1 + lc:
			cmd.data = body[1:]
		case 2 + lc:
			cmd.data = body[1 : 1+lc]
			cmd.ne = le(body[1+lc])
		default:
			return command{}, fmt.Errorf("Lc %d does not match %d body bytes", lc, len(body))
		}
	}
	return cmd, nil
}

func le(b byte) int {
	if b == 0 {
		return 256
	}
	return int(b)
}

func (c *Card) dispatch(cmd command) ([]byte, iso7816.StatusWord) {
	// GET RESPONSE travels on the class of the command it continues.
	if cmd.ins == iso7816.INS_GET_RESPONSE {
		return c.getResponse(cmd)
	}
	if cmd.cla == iso7816.ClassInterindustry.Raw {
		if cmd.ins == iso7816.INS_SELECT {
			return c.selectApplet(cmd)
		}
		return nil, iso7816.SW_ERR_INS_INVALID
	}
	if cmd.cla != iso7816.ClassProprietary.Raw {
		return nil, iso7816.SW_ERR_CLA_NOT_SUPPORTED
	}
	if !c.selected {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}

	switch cmd.ins {
	case applet.INS_GET_PUBLIC_KEY:
		return c.publicKey(), iso7816.SW_NO_ERROR
	case applet.INS_AUTHENTICATE:
		return c.authenticate(cmd.data)
	case applet.INS_VERIFY_PIN:
		return c.verifyPIN(cmd.data)
	case applet.INS_CHANGE_PIN:
		return c.changePIN(cmd.data)
	case applet.INS_GET_RETRIES:
		return []byte{byte(c.left)}, iso7816.SW_NO_ERROR
	case applet.INS_READ_INFO:
		return c.info, iso7816.SW_NO_ERROR
	case applet.INS_WRITE_INFO:
		return c.writeInfo(cmd.data)
	case applet.INS_APPEND_LOG:
		return c.appendLog(cmd.data)
	case applet.INS_READ_LOGS:
		return bytes.Join(c.logs, nil), iso7816.SW_NO_ERROR
	case applet.INS_GET_BALANCE:
		return binary.BigEndian.AppendUint32(nil, uint32(c.balance)), iso7816.SW_NO_ERROR
	case applet.INS_TOP_UP:
		return c.topUp(cmd.data)
	case applet.INS_PAY:
		return c.pay(cmd.data)
	case applet.INS_AVATAR_UPLOAD:
		return c.avatarUpload(cmd)
	case applet.INS_AVATAR_DOWNLOAD:
		return c.avatarDownload(cmd)
	}
	return nil, iso7816.SW_ERR_INS_INVALID
}

func (c *Card) selectApplet(cmd command) ([]byte, iso7816.StatusWord) {
	if cmd.p1 != byte(iso7816.SelectByDFName) || !bytes.Equal(cmd.data, c.aid) {
		c.selected = false
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	c.selected = true
	c.unlocked = false
	return c.fci, iso7816.SW_NO_ERROR
}

func (c *Card) getResponse(cmd command) ([]byte, iso7816.StatusWord) {
	if len(c.pending) == 0 {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	n := min(cmd.ne, len(c.pending))
	if cmd.ne == 0 {
		n = min(maxResponse, len(c.pending))
	}
	data := c.pending[:n]
	c.pending = c.pending[n:]
	if len(c.pending) > 0 {
		return data, iso7816.NewStatusWord(0x61, byte(min(len(c.pending), maxResponse)))
	}
	return data, iso7816.SW_NO_ERROR
}

func (c *Card) publicKey() []byte {
	out := make([]byte, modulusBits/8)
	c.key.N.FillBytes(out)
	return append(out, big.NewInt(int64(c.key.E)).Bytes()...)
}

func (c *Card) authenticate(challenge []byte) ([]byte, iso7816.StatusWord) {
	if len(challenge) == 0 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	digest := sha1.Sum(challenge)
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA1, digest[:])
	if err != nil {
		return nil, iso7816.SW_ERR_UNKNOWN
	}
	return sig, iso7816.SW_NO_ERROR
}

// checkPIN compares an encrypted block and charges a try on mismatch.
func (c *Card) checkPIN(enc []byte) iso7816.StatusWord {
	if c.left == 0 {
		return iso7816.SW_ERR_AUTH_METHOD_BLOCKED
	}
	if !bytes.Equal(c.cipher.Decrypt(enc), c.pin) {
		c.left--
		c.unlocked = false
		return iso7816.SW_WARN_COUNTER_0 + iso7816.StatusWord(c.left)
	}
	c.left = c.tries
	return iso7816.SW_NO_ERROR
}

func (c *Card) verifyPIN(data []byte) ([]byte, iso7816.StatusWord) {
	if len(data) != 16 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	sw := c.checkPIN(data)
	c.unlocked = sw == iso7816.SW_NO_ERROR
	return nil, sw
}

func (c *Card) changePIN(data []byte) ([]byte, iso7816.StatusWord) {
	if len(data) != 32 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	if sw := c.checkPIN(data[:16]); sw != iso7816.SW_NO_ERROR {
		return nil, sw
	}
	next := c.cipher.Decrypt(data[16:])
	if len(next) != 16 || next[0] == 0xFF {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}
	c.pin = next
	return nil, iso7816.SW_NO_ERROR
}

func (c *Card) writeInfo(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}
	if len(data) != record.Size {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	c.info = append([]byte(nil), data...)
	return nil, iso7816.SW_NO_ERROR
}

func (c *Card) appendLog(data []byte) ([]byte, iso7816.StatusWord) {
	if len(data) != cardlog.RecordSize {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	if k := cardlog.Kind(data[0]); k != cardlog.KindAccess && k != cardlog.KindTransaction {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}
	if len(c.logs) == c.logSize {
		c.logs = c.logs[1:]
	}
	c.logs = append(c.logs, append([]byte(nil), data...))
	return nil, iso7816.SW_NO_ERROR
}

func amount(data []byte) (int32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	v := int32(binary.BigEndian.Uint32(data))
	return v, v > 0
}

func (c *Card) topUp(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}
	v, ok := amount(data)
	if !ok || len(data) != 4 {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}
	if int64(c.balance)+int64(v) > 1<<31-1 {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	c.balance += v
	return binary.BigEndian.AppendUint32(nil, uint32(c.balance)), iso7816.SW_NO_ERROR
}

// pay debits the wallet and signs id | amount | timestamp | unique.
func (c *Card) pay(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}
	v, ok := amount(data)
	if !ok || len(data) != 12 {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}
	if v > c.balance {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}

	p := sigverify.NewPayload(c.info[:sigverify.IDSize], v,
		int32(binary.BigEndian.Uint32(data[4:])),
		int32(binary.BigEndian.Uint32(data[8:])))
	digest := sha256.Sum256(p.Bytes())
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, iso7816.SW_ERR_UNKNOWN
	}
	c.balance -= v
	return sig, iso7816.SW_NO_ERROR
}

func (c *Card) avatarUpload(cmd command) ([]byte, iso7816.StatusWord) {
	if !c.unlocked {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}
	off := applet.Offset(cmd.p1, cmd.p2)
	if !channel.Aligned(len(cmd.data)) {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	end := off + len(cmd.data)
	if end > bulk.MaxImageSize {
		return nil, iso7816.SW_ERR_NOT_ENOUGH_MEMORY
	}
	if off > len(c.avatar) {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_P1P2
	}
	// Writing at offset 0 starts a new image.
	if off == 0 {
		c.avatar = c.avatar[:0]
	}
	if end > len(c.avatar) {
		c.avatar = append(c.avatar, make([]byte, end-len(c.avatar))...)
	}
	copy(c.avatar[off:], cmd.data)
	return nil, iso7816.SW_NO_ERROR
}

func (c *Card) avatarDownload(cmd command) ([]byte, iso7816.StatusWord) {
	off := applet.Offset(cmd.p1, cmd.p2)
	if off >= len(c.avatar) {
		return nil, iso7816.SW_NO_ERROR
	}
	n := cmd.ne
	if n == 0 {
		n = bulk.MaxChunk
	}
	return c.avatar[off:min(off+n, len(c.avatar))], iso7816.SW_NO_ERROR
}
