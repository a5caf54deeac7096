// Package cardproxy wraps a CARD-role devicelink.Link and exposes the
// card's four protocol operations as typed Go methods, translating
// between AtmOrchestrator's calling convention and the wire formats
// devicelink.ReplySize and the opcode table describe.
package cardproxy

import (
	"context"
	"errors"
	"fmt"

	"atmcore/internal/devicelink"
)

// ErrCardRejected is returned when the card answers a request with a tag
// that does not match the expected reply opcode, meaning it refused the
// operation internally (bad PIN, already provisioned, and similar).
var ErrCardRejected = errors.New("cardproxy: card rejected request")

// Proxy wraps a CARD-role Link.
type Proxy struct {
	link *devicelink.Link
}

// New wraps link, which must have been constructed with devicelink.RoleCard.
func New(link *devicelink.Link) *Proxy {
	return &Proxy{link: link}
}

// Attach blocks until a card is inserted and the sync handshake for the
// requested provisioning mode completes.
func (p *Proxy) Attach(ctx context.Context, provision bool) error {
	return p.link.Attach(ctx, provision)
}

// Close releases the underlying device link.
func (p *Proxy) Close() error {
	return p.link.Close()
}

// GetCardID retrieves the card's 36-byte identity string.
func (p *Proxy) GetCardID() (string, error) {
	reply, err := p.link.Exchange([]byte{devicelink.RequestName}, devicelink.ReplySize(devicelink.RequestName))
	if err != nil {
		return "", err
	}
	if reply[0] != devicelink.ReturnName {
		return "", ErrCardRejected
	}
	return string(reply[1:]), nil
}

// SignNonce asks the card to sign nonce under the key derived from pin.
// The card verifies the PIN internally; a tag mismatch in the reply means
// it refused, surfaced here as ErrCardRejected rather than a signature the
// bank would reject anyway.
func (p *Proxy) SignNonce(nonce, pin []byte) ([]byte, error) {
	if len(nonce) != devicelink.NonceSize {
		return nil, fmt.Errorf("cardproxy: sign_nonce: nonce must be %d bytes", devicelink.NonceSize)
	}
	if len(pin) != devicelink.PinSize {
		return nil, fmt.Errorf("cardproxy: sign_nonce: pin must be %d bytes", devicelink.PinSize)
	}

	request := make([]byte, 0, 1+devicelink.NonceSize+devicelink.PinSize)
	request = append(request, devicelink.RequestCardSignature)
	request = append(request, nonce...)
	request = append(request, pin...)

	reply, err := p.link.Exchange(request, devicelink.ReplySize(devicelink.RequestCardSignature))
	if err != nil {
		return nil, err
	}
	if reply[0] != devicelink.ReturnCardSignature {
		return nil, ErrCardRejected
	}
	return reply[1:], nil
}

// RequestNewPublicKey asks the card to derive the public key that would
// correspond to a PIN change to newPin, without committing the change.
func (p *Proxy) RequestNewPublicKey(newPin []byte) ([]byte, error) {
	if len(newPin) != devicelink.PinSize {
		return nil, fmt.Errorf("cardproxy: request_new_public_key: pin must be %d bytes", devicelink.PinSize)
	}

	request := make([]byte, 0, 1+devicelink.PinSize)
	request = append(request, devicelink.RequestNewPK)
	request = append(request, newPin...)

	reply, err := p.link.Exchange(request, devicelink.ReplySize(devicelink.RequestNewPK))
	if err != nil {
		return nil, err
	}
	if reply[0] != devicelink.ReturnNewPK {
		return nil, ErrCardRejected
	}
	return reply[1:], nil
}

// Provision performs the write-once provisioning handshake: r is the
// 32-byte PRF key, randKey a 32-byte random seed, uuid the card's new
// 36-byte identity. Attach must already have been called with
// provision=true; an already-provisioned card is refused there, by Attach,
// with devicelink.ErrAlreadyProvisioned.
func (p *Proxy) Provision(r, randKey []byte, uuid string) error {
	if len(r) != devicelink.NonceSize {
		return fmt.Errorf("cardproxy: provision: r must be %d bytes", devicelink.NonceSize)
	}
	if len(randKey) != devicelink.NonceSize {
		return fmt.Errorf("cardproxy: provision: rand_key must be %d bytes", devicelink.NonceSize)
	}
	if len(uuid) != devicelink.UUIDSize {
		return fmt.Errorf("cardproxy: provision: uuid must be %d bytes", devicelink.UUIDSize)
	}

	request := make([]byte, 0, 1+devicelink.NonceSize+devicelink.NonceSize+devicelink.UUIDSize)
	request = append(request, devicelink.RequestProvision)
	request = append(request, r...)
	request = append(request, randKey...)
	request = append(request, uuid...)

	reply, err := p.link.Exchange(request, 1)
	if err != nil {
		return err
	}
	switch reply[0] {
	case devicelink.Accepted:
		return nil
	case devicelink.Rejected:
		return ErrCardRejected
	default:
		return fmt.Errorf("cardproxy: provision: unexpected reply tag 0x%02x", reply[0])
	}
}
