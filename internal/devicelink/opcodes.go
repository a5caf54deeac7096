// internal/devicelink/opcodes.go
package devicelink

// Wire opcodes shared by CardProxy, HsmProxy and the device framing layer.
// Values match the protocol's most recent, most complete draft exactly;
// numeric values are asserted by opcodes_test.go.
const (
	RequestName           byte = 0x00
	ReturnName            byte = 0x01
	RequestCardSignature  byte = 0x02
	ReturnCardSignature   byte = 0x03
	RequestHSMNonce       byte = 0x04
	ReturnHSMNonce        byte = 0x05
	RequestHSMUUID        byte = 0x06
	ReturnHSMUUID         byte = 0x07
	RequestWithdrawal     byte = 0x08
	ReturnWithdrawal      byte = 0x09
	RequestBalance        byte = 0x0A
	ReturnBalance         byte = 0x0B
	RequestNewPK          byte = 0x0C
	ReturnNewPK           byte = 0x0D

	SyncRequestProv      byte = 0x15
	SyncRequestNoProv    byte = 0x16
	SyncConfirmedProv    byte = 0x17
	SyncConfirmedNoProv  byte = 0x18
	SyncFailedNoProv     byte = 0x19
	SyncFailedProv       byte = 0x1A
	Synced               byte = 0x1B

	SyncTypeHSMNormal   byte = 0x1C
	SyncTypeCardNormal  byte = 0x1D
	SyncTypeHSMProv     byte = SyncTypeHSMNormal | 0x20
	SyncTypeCardProv    byte = SyncTypeCardNormal | 0x20

	PSoCDeviceRequest byte = 0x1E

	Accepted byte = 0x20
	Rejected byte = 0x21

	RequestProvision     byte = 0x22
	BillsRequest         byte = 0x23
	BillReceived         byte = 0x24
	InitiateBillsRequest byte = 0x25
)

// Fixed payload sizes in bytes (excluding the leading tag byte, which
// ReplySize adds), so the framing layer knows exactly how many bytes to
// read per opcode. There is
// no length-prefix in the wire format; the application layer knows the
// reply size for the request it sent.
const (
	UUIDSize       = 36
	CardIDSize     = 36
	NonceSize      = 32
	SignatureSize  = 64
	PublicKeySize  = 32
	PinSize        = 8
	BalanceSize    = 4
	BillSize       = 16
	MaxBills       = 255
)

// ReplySize returns the total reply length (tag byte + payload) for a
// request opcode that has a single fixed-size reply, or 0 if the reply
// size is variable (withdrawal and provisioning replies are framed by their
// own count-prefixed rules instead).
func ReplySize(request byte) int {
	switch request {
	case RequestName:
		return 1 + CardIDSize
	case RequestCardSignature:
		return 1 + SignatureSize
	case RequestNewPK:
		return 1 + PublicKeySize
	case RequestHSMUUID:
		return 1 + UUIDSize
	case RequestHSMNonce:
		return 1 + NonceSize
	case RequestBalance:
		return 1 + BalanceSize
	default:
		return 0
	}
}
