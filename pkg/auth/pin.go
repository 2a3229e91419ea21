package auth

import (
	"errors"
	"fmt"

	"github.com/gregLibert/staffcard/pkg/applet"
)

// PINBlockSize is the length of a PIN block before encryption.
const PINBlockSize = 16

var ErrPINLength = fmt.Errorf("PIN must be 1 to %d bytes", PINBlockSize)

// PINBlock lays the PIN out left-aligned and fills the rest with 0xFF.
// The block is only ever sent encrypted.
func PINBlock(pin string) ([]byte, error) {
	if len(pin) == 0 || len(pin) > PINBlockSize {
		return nil, ErrPINLength
	}
	block := make([]byte, PINBlockSize)
	n := copy(block, pin)
	for i := n; i < PINBlockSize; i++ {
		block[i] = 0xFF
	}
	return block, nil
}

func (a *Authenticator) encryptedPIN(pin string) ([]byte, error) {
	block, err := PINBlock(pin)
	if err != nil {
		return nil, err
	}
	enc := a.cipher.Encrypt(block)
	if len(enc) != PINBlockSize {
		return nil, errors.New("PIN block encryption failed")
	}
	return enc, nil
}

// VerifyPIN sends the encrypted PIN block. Only 9000 unlocks the card.
func (a *Authenticator) VerifyPIN(pin string) bool {
	enc, err := a.encryptedPIN(pin)
	if err != nil {
		a.log.Warn("PIN verification not attempted", "error", err)
		return false
	}

	resp := a.transport.Transmit(applet.Command(applet.INS_VERIFY_PIN, 0, 0, enc, 0))
	if resp.IsSuccess() {
		return true
	}
	if left, ok := resp.Status.Counter(); ok {
		a.log.Info("wrong PIN", "tries_left", left)
	} else {
		a.log.Warn("PIN verification failed", "status", resp.Status.Verbose())
	}
	return false
}

// PinOutcome is the result of a PIN change.
type PinOutcome int

const (
	PinOK PinOutcome = iota
	// PinReused: the new PIN equals the current or the issuance PIN.
	PinReused
	// PinCardError: the card refused the change or could not be reached.
	PinCardError
	// PinServerError: the card accepted the change but the back office
	// could not record it.
	PinServerError
)

func (o PinOutcome) String() string {
	switch o {
	case PinOK:
		return "ok"
	case PinReused:
		return "pin reused"
	case PinCardError:
		return "card error"
	case PinServerError:
		return "server error"
	default:
		return fmt.Sprintf("PinOutcome(%d)", int(o))
	}
}

// ChangePIN replaces oldPIN with newPIN on the card. The error, when set,
// details a PinCardError for diagnostics.
func (a *Authenticator) ChangePIN(oldPIN, newPIN string) (PinOutcome, error) {
	if newPIN == oldPIN || (a.defaultPIN != "" && newPIN == a.defaultPIN) {
		return PinReused, nil
	}

	oldEnc, err := a.encryptedPIN(oldPIN)
	if err != nil {
		return PinCardError, fmt.Errorf("current PIN: %w", err)
	}
	newEnc, err := a.encryptedPIN(newPIN)
	if err != nil {
		return PinCardError, fmt.Errorf("new PIN: %w", err)
	}

	data := append(oldEnc, newEnc...)
	resp := a.transport.Transmit(applet.Command(applet.INS_CHANGE_PIN, 0, 0, data, 0))
	if err := applet.Check(applet.INS_CHANGE_PIN, resp); err != nil {
		return PinCardError, err
	}
	return PinOK, nil
}
