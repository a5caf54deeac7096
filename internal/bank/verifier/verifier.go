// Package verifier implements the bank's per-request verification core:
// nonce issuance and consumption, card signature verification, withdrawal
// accounting, and HSM-targeted ciphertext production. Every exported
// method corresponds to one RPC the bank exposes to an ATM.
package verifier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"atmcore/internal/bank/store"
	"atmcore/internal/cryptoops"
)

// ErrUnknownCard is returned when card_id has no matching row.
var ErrUnknownCard = errors.New("verifier: unknown card")

// ErrUnknownHSM is returned when hsm_id has no matching row.
var ErrUnknownHSM = errors.New("verifier: unknown hsm")

// ErrNonceLive is returned by GetNonce when a previously issued nonce is
// still unused and unexpired; issuing a second nonce now would let two
// concurrent requests race for the same challenge window.
var ErrNonceLive = errors.New("verifier: a live nonce is already outstanding")

// ErrNonceRejected is returned when a submitted nonce does not match,
// was already used, or has expired.
var ErrNonceRejected = errors.New("verifier: nonce rejected")

// ErrBadSignature is returned when the card signature does not verify
// under the card's registered public key.
var ErrBadSignature = errors.New("verifier: signature verification failed")

// ErrInsufficientFunds is returned by Withdraw when the requested amount
// exceeds either the card's balance or the ATM's remaining bill count.
var ErrInsufficientFunds = errors.New("verifier: insufficient funds")

// ErrAlreadySet is returned by SetFirstPK/SetInitialNumBills when the
// target field is already populated.
var ErrAlreadySet = errors.New("verifier: value already set")

// Verifier is the bank's request-handling core, backed by a Store.
type Verifier struct {
	store *store.Store
}

// New wraps store behind the bank's verification contracts.
func New(s *store.Store) *Verifier {
	return &Verifier{store: s}
}

// AdminCreateAccount registers a new card under accountName with an
// opening balance. Exposed here (rather than requiring callers to reach
// into store directly) so internal/bank/adminapi only depends on Verifier.
func (v *Verifier) AdminCreateAccount(ctx context.Context, accountName, cardID string, amount int64) (bool, error) {
	return v.store.AdminCreateAccount(ctx, accountName, cardID, amount)
}

// AdminCreateATM registers a new HSM identified by hsmID with shared
// secret hsmKey.
func (v *Verifier) AdminCreateATM(ctx context.Context, hsmID string, hsmKey []byte) (bool, error) {
	return v.store.AdminCreateATM(ctx, hsmID, hsmKey)
}

// AdminGetBalance looks up a card's balance by account name.
func (v *Verifier) AdminGetBalance(ctx context.Context, accountName string) (int64, bool, error) {
	return v.store.AdminGetBalance(ctx, accountName)
}

// AdminSetBalance overwrites an account's balance directly.
func (v *Verifier) AdminSetBalance(ctx context.Context, accountName string, balance int64) (bool, error) {
	return v.store.AdminSetBalance(ctx, accountName, balance)
}

// GetPK returns a card's currently registered verification key, exposed
// for provisioning tooling that needs to confirm a write succeeded.
func (v *Verifier) GetPK(ctx context.Context, cardID string) ([]byte, error) {
	return v.store.GetPK(ctx, cardID)
}

// GetNonce issues a fresh challenge for cardID, refusing to overwrite a
// still-live previously issued nonce.
func (v *Verifier) GetNonce(ctx context.Context, cardID string) ([]byte, error) {
	exists, err := v.store.CardExists(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownCard
	}

	nonce, err := cryptoops.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("verifier: get_nonce: %w", err)
	}

	ok, err := v.store.CheckExpiredAndUpdateNonce(ctx, cardID, nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNonceLive
	}
	return nonce, nil
}

// consumeAndVerify is the shared first three steps of check_balance,
// withdraw, and change_pin: validate participants exist, verify the
// card's signature over the nonce, and consume the nonce only once that
// signature checks out. A bad signature leaves the nonce live, so a
// correctly signed retry within the validity window still succeeds
// (spec.md Invariant 3, Scenario S6).
func (v *Verifier) consumeAndVerify(ctx context.Context, cardID, hsmID string, nonce, sig []byte) (pk, hsmKey []byte, err error) {
	cardExists, err := v.store.CardExists(ctx, cardID)
	if err != nil {
		return nil, nil, err
	}
	if !cardExists {
		return nil, nil, ErrUnknownCard
	}

	if hsmID != "" {
		hsmKey, err = v.store.GetHSMKey(ctx, hsmID)
		if err != nil {
			return nil, nil, err
		}
		if hsmKey == nil {
			return nil, nil, ErrUnknownHSM
		}
	}

	var verifiedPK []byte
	nonceValid, sigValid, err := v.store.VerifyAndConsumeNonce(ctx, cardID, nonce, func(candidatePK []byte) bool {
		verifiedPK = candidatePK
		return cryptoops.Verify(candidatePK, nonce, sig)
	})
	if err != nil {
		return nil, nil, err
	}
	if !nonceValid {
		return nil, nil, ErrNonceRejected
	}
	if !sigValid {
		return nil, nil, ErrBadSignature
	}
	return verifiedPK, hsmKey, nil
}

// CheckBalance verifies the customer's standing request and returns a
// ciphertext the HSM can decrypt to learn the card's balance.
func (v *Verifier) CheckBalance(ctx context.Context, cardID string, nonce, sig []byte, hsmID string, hsmNonce []byte) ([]byte, error) {
	_, hsmKey, err := v.consumeAndVerify(ctx, cardID, hsmID, nonce, sig)
	if err != nil {
		return nil, err
	}

	balance, ok, err := v.store.GetBalance(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownCard
	}

	plaintext := make([]byte, 4)
	binary.BigEndian.PutUint32(plaintext, uint32(balance))

	var key [cryptoops.SealKeySize]byte
	copy(key[:], hsmKey)
	return cryptoops.Seal(plaintext, cryptoops.Ctx("BAL"), hsmNonce, &key)
}

// Withdraw verifies the request, atomically debits both the card's
// balance and the ATM's bill inventory, and returns a ciphertext
// authorizing the HSM to dispense amount.
func (v *Verifier) Withdraw(ctx context.Context, cardID string, nonce, sig []byte, hsmID string, hsmNonce []byte, amount int64) ([]byte, error) {
	if amount < 0 {
		return nil, fmt.Errorf("verifier: withdraw: amount must be non-negative")
	}

	_, hsmKey, err := v.consumeAndVerify(ctx, cardID, hsmID, nonce, sig)
	if err != nil {
		return nil, err
	}

	ok, err := v.store.DoWithdrawal(ctx, cardID, hsmID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientFunds
	}

	plaintext := make([]byte, 4)
	binary.BigEndian.PutUint32(plaintext, uint32(amount))

	var key [cryptoops.SealKeySize]byte
	copy(key[:], hsmKey)
	return cryptoops.Seal(plaintext, cryptoops.Ctx("WDR"), hsmNonce, &key)
}

// ChangePIN verifies the request against the card's current key and
// replaces it with newPK. The nonce is consumed by one store call and the
// key written by a second; the two writes are not one transaction, so a
// failed key write leaves the nonce used and the old key in place.
func (v *Verifier) ChangePIN(ctx context.Context, cardID string, nonce, sig, newPK []byte) error {
	_, _, err := v.consumeAndVerify(ctx, cardID, "", nonce, sig)
	if err != nil {
		return err
	}

	ok, err := v.store.UpdatePK(ctx, cardID, newPK)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownCard
	}
	return nil
}

// SetFirstPK is a provisioning-only operation: it succeeds only if cardID
// exists and has never had a public key recorded.
func (v *Verifier) SetFirstPK(ctx context.Context, cardID string, pk []byte) error {
	ok, err := v.store.SetFirstPK(ctx, cardID, pk)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadySet
	}
	return nil
}

// SetInitialNumBills is a provisioning-only operation: it succeeds only
// if hsmID exists and has never had a bill count recorded.
func (v *Verifier) SetInitialNumBills(ctx context.Context, hsmID string, numBills int64) error {
	ok, err := v.store.SetInitialNumBills(ctx, hsmID, numBills)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadySet
	}
	return nil
}
