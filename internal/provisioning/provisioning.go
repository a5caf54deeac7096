// Package provisioning drives the one-shot card/ATM provisioning flow:
// validate an operator-supplied blob, push it to the device over its
// proxy, then record the write-once fields on the bank. It holds no
// state across calls; cmd/provision is the only caller.
package provisioning

import (
	"fmt"

	"atmcore/internal/bank/rpc"
	"atmcore/internal/cardproxy"
	"atmcore/internal/devicelink"
	"atmcore/internal/hsmproxy"
)

// BlobSize is the length of both card_blob and hsm_blob: a 32-byte key, a
// 32-byte random seed, and a 36-byte id, concatenated.
const BlobSize = devicelink.NonceSize + devicelink.NonceSize + devicelink.UUIDSize

// ErrBadBlobLength is returned when a supplied blob is not exactly
// BlobSize bytes; per spec.md §6.5 this is a pure input-validation
// failure that never touches a device or the bank.
var ErrBadBlobLength = fmt.Errorf("provisioning: blob must be exactly %d bytes", BlobSize)

// SplitBlob breaks a 100-byte blob into its key, random seed, and id
// components, shared by both card and ATM provisioning.
func SplitBlob(blob []byte) (key, randKey []byte, id string, err error) {
	if len(blob) != BlobSize {
		return nil, nil, "", ErrBadBlobLength
	}
	key = blob[:devicelink.NonceSize]
	randKey = blob[devicelink.NonceSize : 2*devicelink.NonceSize]
	id = string(blob[2*devicelink.NonceSize:])
	return key, randKey, id, nil
}

// ProvisionCard validates cardBlob, drives the card's provisioning
// handshake, derives the card's initial public key from pin, and records
// it on the bank as the card's write-once key. card must already be
// attached in provisioning mode.
func ProvisionCard(card *cardproxy.Proxy, bank *rpc.Client, cardBlob, pin []byte) error {
	r, randKey, cardID, err := SplitBlob(cardBlob)
	if err != nil {
		return err
	}

	if err := card.Provision(r, randKey, cardID); err != nil {
		return fmt.Errorf("provisioning: provision_card: %w", err)
	}

	pk, err := card.RequestNewPublicKey(pin)
	if err != nil {
		return fmt.Errorf("provisioning: provision_card: request_new_public_key: %w", err)
	}

	if err := bank.SetFirstPK(cardID, pk); err != nil {
		return fmt.Errorf("provisioning: provision_card: set_first_pk: %w", err)
	}
	return nil
}

// ProvisionATM validates hsmBlob, drives the HSM's provisioning handshake
// with the given initial bill inventory, and records the bill count on
// the bank as the ATM's write-once field. hsm must already be attached in
// provisioning mode.
func ProvisionATM(hsm *hsmproxy.Proxy, bank *rpc.Client, hsmBlob []byte, bills [][]byte) error {
	hsmKey, randKey, hsmID, err := SplitBlob(hsmBlob)
	if err != nil {
		return err
	}

	if err := hsm.Provision(hsmKey, randKey, hsmID, bills); err != nil {
		return fmt.Errorf("provisioning: provision_atm: %w", err)
	}

	if err := bank.SetInitialNumBills(hsmID, int64(len(bills))); err != nil {
		return fmt.Errorf("provisioning: provision_atm: set_initial_num_bills: %w", err)
	}
	return nil
}

// NewCardID returns a 36-byte card/ATM identity string built from
// uuidString, right-padded with zero bytes (or truncated) to UUIDSize.
// cmd/provision passes it a random UUID when the operator does not supply
// a device id explicitly.
func NewCardID(uuidString string) string {
	id := make([]byte, devicelink.UUIDSize)
	copy(id, uuidString)
	return string(id)
}
