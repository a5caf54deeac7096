package cryptoops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	var key [SealKeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	hsmNonce, err := RandomNonce()
	require.NoError(t, err)

	ctx := Ctx("BAL")
	plaintext := []byte{0x00, 0x00, 0x00, 0x64}

	ct, err := Seal(plaintext, ctx, hsmNonce, &key)
	require.NoError(t, err)

	pt, err := Open(ct, ctx, hsmNonce, &key)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	var key, other [SealKeySize]byte
	other[0] = 1
	hsmNonce, err := RandomNonce()
	require.NoError(t, err)

	ct, err := Seal([]byte("hello"), Ctx("BAL"), hsmNonce, &key)
	require.NoError(t, err)

	_, err = Open(ct, Ctx("BAL"), hsmNonce, &other)
	require.Error(t, err)
}

func TestOpenRejectsWrongContext(t *testing.T) {
	var key [SealKeySize]byte
	hsmNonce, err := RandomNonce()
	require.NoError(t, err)

	ct, err := Seal([]byte("hello"), Ctx("BAL"), hsmNonce, &key)
	require.NoError(t, err)

	_, err = Open(ct, Ctx("WDR"), hsmNonce, &key)
	require.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pin := []byte("12345678")
	sk := DeriveSecretKey(pin)
	pk := DerivePublicKey(pin)

	msg := make([]byte, NonceSize)
	for i := range msg {
		msg[i] = byte(i * 3)
	}

	sig := Sign(sk, msg)
	require.Len(t, sig, SignatureSize)
	require.True(t, Verify(pk, msg, sig))
}

func TestVerifyRejectsWrongPin(t *testing.T) {
	msg := make([]byte, NonceSize)
	sk := DeriveSecretKey([]byte("12345678"))
	sig := Sign(sk, msg)

	wrongPk := DerivePublicKey([]byte("00000000"))
	require.False(t, Verify(wrongPk, msg, sig))
}
