// Package hsmproxy wraps an HSM-role devicelink.Link and exposes the
// HSM's identity, nonce, and ciphertext-handling operations. Calls to
// GetUUID/GetNonce must alternate with HandleBalanceCheck/HandleWithdrawal
// exactly as spec.md §4.3 requires; a reordering desynchronizes the real
// device, so this package does not attempt to hide or enforce that
// ordering itself — AtmOrchestrator is the only caller and it already
// drives the calls in the required sequence.
package hsmproxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"atmcore/internal/devicelink"
)

// ErrHSMRejected is returned when the HSM's reply tag does not match the
// expected Return*/Accepted opcode: the ciphertext failed authentication,
// the device refused, or (for provisioning) it was already provisioned.
var ErrHSMRejected = errors.New("hsmproxy: hsm rejected request")

// Proxy wraps an HSM-role Link.
type Proxy struct {
	link *devicelink.Link
}

// New wraps link, which must have been constructed with devicelink.RoleHSM.
func New(link *devicelink.Link) *Proxy {
	return &Proxy{link: link}
}

// Attach blocks until an HSM is connected and the sync handshake for the
// requested provisioning mode completes.
func (p *Proxy) Attach(ctx context.Context, provision bool) error {
	return p.link.Attach(ctx, provision)
}

// Close releases the underlying device link.
func (p *Proxy) Close() error {
	return p.link.Close()
}

// GetUUID retrieves the HSM's 36-byte identity string.
func (p *Proxy) GetUUID() (string, error) {
	reply, err := p.link.Exchange([]byte{devicelink.RequestHSMUUID}, devicelink.ReplySize(devicelink.RequestHSMUUID))
	if err != nil {
		return "", err
	}
	if reply[0] != devicelink.ReturnHSMUUID {
		return "", ErrHSMRejected
	}
	return string(reply[1:]), nil
}

// GetNonce asks the HSM to mint a fresh 32-byte nonce, used to bind the
// bank's response ciphertext to this specific transaction.
func (p *Proxy) GetNonce() ([]byte, error) {
	reply, err := p.link.Exchange([]byte{devicelink.RequestHSMNonce}, devicelink.ReplySize(devicelink.RequestHSMNonce))
	if err != nil {
		return nil, err
	}
	if reply[0] != devicelink.ReturnHSMNonce {
		return nil, ErrHSMRejected
	}
	return reply[1:], nil
}

// HandleBalanceCheck forwards the bank's ciphertext to the HSM, which
// decrypts and authenticates it before revealing the balance it encodes.
func (p *Proxy) HandleBalanceCheck(ciphertext []byte) (int64, error) {
	request := make([]byte, 0, 1+len(ciphertext))
	request = append(request, devicelink.RequestBalance)
	request = append(request, ciphertext...)

	reply, err := p.link.Exchange(request, 1+devicelink.BalanceSize)
	if err != nil {
		return 0, err
	}
	if reply[0] != devicelink.ReturnBalance {
		return 0, ErrHSMRejected
	}
	return int64(binary.BigEndian.Uint32(reply[1:])), nil
}

// HandleWithdrawal forwards the bank's ciphertext authorizing a
// withdrawal and returns the bill strings the HSM dispenses.
func (p *Proxy) HandleWithdrawal(ciphertext []byte) ([][]byte, error) {
	request := make([]byte, 0, 1+len(ciphertext))
	request = append(request, devicelink.RequestWithdrawal)
	request = append(request, ciphertext...)

	reply, err := p.link.ExchangeVariable(request, 2, func(header []byte) int {
		return int(header[1]) * devicelink.BillSize
	})
	if err != nil {
		return nil, err
	}
	if reply[0] != devicelink.ReturnWithdrawal {
		return nil, ErrHSMRejected
	}

	count := int(reply[1])
	bills := make([][]byte, 0, count)
	body := reply[2:]
	for i := 0; i < count; i++ {
		start := i * devicelink.BillSize
		bills = append(bills, body[start:start+devicelink.BillSize])
	}
	return bills, nil
}

// Provision performs the write-once provisioning handshake: hsmKey is the
// 32-byte shared secret the bank will use to seal future ciphertexts,
// randKey a 32-byte random seed, uuid the HSM's new 36-byte identity, and
// bills the initial cash load (each padded to 16 bytes). Attach must
// already have been called with provision=true.
func (p *Proxy) Provision(hsmKey, randKey []byte, uuid string, bills [][]byte) error {
	if len(hsmKey) != devicelink.NonceSize {
		return fmt.Errorf("hsmproxy: provision: hsm_key must be %d bytes", devicelink.NonceSize)
	}
	if len(randKey) != devicelink.NonceSize {
		return fmt.Errorf("hsmproxy: provision: rand_key must be %d bytes", devicelink.NonceSize)
	}
	if len(uuid) != devicelink.UUIDSize {
		return fmt.Errorf("hsmproxy: provision: uuid must be %d bytes", devicelink.UUIDSize)
	}
	if len(bills) > devicelink.MaxBills {
		return fmt.Errorf("hsmproxy: provision: too many bills (max %d)", devicelink.MaxBills)
	}

	request := make([]byte, 0, 1+devicelink.NonceSize*2+devicelink.UUIDSize+2+len(bills)*devicelink.BillSize)
	request = append(request, devicelink.RequestProvision)
	request = append(request, hsmKey...)
	request = append(request, randKey...)
	request = append(request, uuid...)
	request = append(request, devicelink.BillsRequest, byte(len(bills)))
	for _, bill := range bills {
		padded := make([]byte, devicelink.BillSize)
		copy(padded, bill)
		request = append(request, padded...)
	}

	readSizes := make([]int, 0, len(bills)+1)
	for range bills {
		readSizes = append(readSizes, 1)
	}
	readSizes = append(readSizes, 1)

	replies, err := p.link.ExchangeSequence(request, readSizes)
	if err != nil {
		return err
	}

	for _, ack := range replies[:len(bills)] {
		if ack[0] != devicelink.BillReceived {
			return ErrHSMRejected
		}
	}

	final := replies[len(bills)][0]
	if final == devicelink.Rejected {
		return ErrHSMRejected
	}
	if final != devicelink.Accepted {
		return fmt.Errorf("hsmproxy: provision: unexpected reply tag 0x%02x", final)
	}
	return nil
}
