package devicelink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncOpcodeValues(t *testing.T) {
	require.Equal(t, byte(0x15), SyncRequestProv)
	require.Equal(t, byte(0x16), SyncRequestNoProv)
	require.Equal(t, byte(0x17), SyncConfirmedProv)
	require.Equal(t, byte(0x18), SyncConfirmedNoProv)
	require.Equal(t, byte(0x1B), Synced)
	require.Equal(t, byte(0x3C), SyncTypeHSMProv)
	require.Equal(t, byte(0x3D), SyncTypeCardProv)
}

func TestTransactionOpcodeValues(t *testing.T) {
	require.Equal(t, byte(0x09), ReturnWithdrawal)
	require.Equal(t, byte(0x0B), ReturnBalance)
	require.Equal(t, byte(0x20), Accepted)
	require.Equal(t, byte(0x21), Rejected)
}

func TestReplySizeKnownOpcodes(t *testing.T) {
	require.Equal(t, 1+UUIDSize, ReplySize(RequestHSMUUID))
	require.Equal(t, 1+NonceSize, ReplySize(RequestHSMNonce))
	require.Equal(t, 1+SignatureSize, ReplySize(RequestCardSignature))
	require.Equal(t, 0, ReplySize(RequestWithdrawal))
}
