// Package atm implements AtmOrchestrator, the stateless per-customer
// operation driver that sequences CardProxy, HsmProxy, and the bank RPC
// client. It holds no durable state of its own: every mutation happens
// in the bank, gated on successful nonce consumption, so a failure at
// any step here has no user-visible partial effect.
package atm

import (
	"errors"
	"fmt"

	"atmcore/internal/bank/rpc"
	"atmcore/internal/cardproxy"
	"atmcore/internal/devicelink"
	"atmcore/internal/hsmproxy"
)

// ErrDeviceNotReady is returned when CardProxy/HsmProxy report the card or
// HSM is not currently inserted and provisioned.
var ErrDeviceNotReady = errors.New("atm: device not ready")

// Orchestrator drives one customer-facing operation at a time over a
// card link, an HSM link, and a bank RPC client.
type Orchestrator struct {
	card *cardproxy.Proxy
	hsm  *hsmproxy.Proxy
	bank *rpc.Client
}

// New builds an Orchestrator over already-attached card/HSM proxies and a
// bank client.
func New(card *cardproxy.Proxy, hsm *hsmproxy.Proxy, bank *rpc.Client) *Orchestrator {
	return &Orchestrator{card: card, hsm: hsm, bank: bank}
}

// recoverable reports whether err is one of the two errors every
// operation catches locally and turns into a plain failure result
// instead of propagating, per spec.md §4.5.
func recoverable(err error) bool {
	return errors.Is(err, devicelink.ErrDeviceRemoved) || errors.Is(err, devicelink.ErrNotProvisioned)
}

func wrapRecoverable(step string, err error) error {
	if err == nil {
		return nil
	}
	if recoverable(err) {
		return fmt.Errorf("%w: %s: %w", ErrDeviceNotReady, step, err)
	}
	return fmt.Errorf("atm: %s: %w", step, err)
}

// CheckBalance runs the full check-balance sequence: card identity, HSM
// identity and nonce, bank nonce issuance, card signature, bank
// verification, and HSM decryption of the resulting balance.
func (o *Orchestrator) CheckBalance(pin []byte) (int64, error) {
	cardID, err := o.card.GetCardID()
	if err != nil {
		return 0, wrapRecoverable("get_card_id", err)
	}

	hsmID, err := o.hsm.GetUUID()
	if err != nil {
		return 0, wrapRecoverable("get_uuid", err)
	}
	hsmNonce, err := o.hsm.GetNonce()
	if err != nil {
		return 0, wrapRecoverable("get_nonce(hsm)", err)
	}

	nonce, err := o.bank.GetNonce(cardID)
	if err != nil {
		return 0, fmt.Errorf("atm: check_balance: get_nonce: %w", err)
	}

	sig, err := o.card.SignNonce(nonce, pin)
	if err != nil {
		return 0, wrapRecoverable("sign_nonce", err)
	}

	ct, err := o.bank.CheckBalance(cardID, nonce, sig, hsmID, hsmNonce)
	if err != nil {
		return 0, fmt.Errorf("atm: check_balance: %w", err)
	}

	balance, err := o.hsm.HandleBalanceCheck(ct)
	if err != nil {
		return 0, wrapRecoverable("handle_balance_check", err)
	}
	return balance, nil
}

// Withdraw runs the same sequence as CheckBalance but asks the bank to
// atomically debit amount and the HSM to dispense it, returning the bill
// strings it released. amount must be non-negative.
func (o *Orchestrator) Withdraw(pin []byte, amount int64) ([][]byte, error) {
	if amount < 0 {
		return nil, fmt.Errorf("atm: withdraw: amount must be non-negative")
	}

	cardID, err := o.card.GetCardID()
	if err != nil {
		return nil, wrapRecoverable("get_card_id", err)
	}

	hsmID, err := o.hsm.GetUUID()
	if err != nil {
		return nil, wrapRecoverable("get_uuid", err)
	}
	hsmNonce, err := o.hsm.GetNonce()
	if err != nil {
		return nil, wrapRecoverable("get_nonce(hsm)", err)
	}

	nonce, err := o.bank.GetNonce(cardID)
	if err != nil {
		return nil, fmt.Errorf("atm: withdraw: get_nonce: %w", err)
	}

	sig, err := o.card.SignNonce(nonce, pin)
	if err != nil {
		return nil, wrapRecoverable("sign_nonce", err)
	}

	ct, err := o.bank.Withdraw(cardID, nonce, sig, hsmID, hsmNonce, amount)
	if err != nil {
		return nil, fmt.Errorf("atm: withdraw: %w", err)
	}

	bills, err := o.hsm.HandleWithdrawal(ct)
	if err != nil {
		return nil, wrapRecoverable("handle_withdrawal", err)
	}
	return bills, nil
}

// ChangePIN runs the card-only PIN change sequence: no HSM participation.
func (o *Orchestrator) ChangePIN(oldPin, newPin []byte) error {
	cardID, err := o.card.GetCardID()
	if err != nil {
		return wrapRecoverable("get_card_id", err)
	}

	nonce, err := o.bank.GetNonce(cardID)
	if err != nil {
		return fmt.Errorf("atm: change_pin: get_nonce: %w", err)
	}

	newPK, err := o.card.RequestNewPublicKey(newPin)
	if err != nil {
		return wrapRecoverable("request_new_public_key", err)
	}

	sig, err := o.card.SignNonce(nonce, oldPin)
	if err != nil {
		return wrapRecoverable("sign_nonce", err)
	}

	if err := o.bank.ChangePIN(cardID, nonce, sig, newPK); err != nil {
		return fmt.Errorf("atm: change_pin: %w", err)
	}
	return nil
}
