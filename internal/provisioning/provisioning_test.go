package provisioning

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"atmcore/internal/bank/rpc"
	"atmcore/internal/bank/store"
	"atmcore/internal/bank/verifier"
	"atmcore/internal/cardproxy"
	"atmcore/internal/cryptoops"
	"atmcore/internal/devicelink"
	"atmcore/internal/hsmproxy"
)

func attachedFakeLink(t *testing.T, role devicelink.Role) (*devicelink.Link, *devicelink.FakeTransport) {
	t.Helper()
	fake := devicelink.NewFakeTransport()
	if role == devicelink.RoleHSM {
		fake.Feed([]byte{devicelink.SyncTypeHSMProv})
	} else {
		fake.Feed([]byte{devicelink.SyncTypeCardProv})
	}
	fake.Feed([]byte{devicelink.SyncConfirmedNoProv})

	var mu sync.Mutex
	var ports []string
	w := devicelink.NewPortWatcherWithLister(5*time.Millisecond, func() ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(ports))
		copy(out, ports)
		return out, nil
	})
	require.NoError(t, w.Snapshot())

	link := devicelink.NewLink(role, func(string) (devicelink.Transport, error) { return fake, nil }, w)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ports = []string{"/dev/ttyFAKE-" + role.String()}
		mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, link.Attach(ctx, true))
	return link, fake
}

func newBankClient(t *testing.T) (*rpc.Client, *verifier.Verifier) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	v := verifier.New(s)

	srv, err := rpc.NewServer(v, "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return rpc.NewClient(srv.Addr()), v
}

func TestSplitBlobRejectsBadLength(t *testing.T) {
	_, _, _, err := SplitBlob(make([]byte, BlobSize-1))
	require.ErrorIs(t, err, ErrBadBlobLength)
}

func TestSplitBlobSplitsFields(t *testing.T) {
	blob := make([]byte, BlobSize)
	blob[0] = 0xAA
	blob[devicelink.NonceSize] = 0xBB
	copy(blob[2*devicelink.NonceSize:], "CARD_0000000000000000000000000001")

	key, randKey, id, err := SplitBlob(blob)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), key[0])
	require.Equal(t, byte(0xBB), randKey[0])
	require.Contains(t, id, "CARD_0000")
}

func TestProvisionCardEndToEnd(t *testing.T) {
	client, v := newBankClient(t)
	cardLink, cardTr := attachedFakeLink(t, devicelink.RoleCard)
	card := cardproxy.New(cardLink)

	cardID := make([]byte, devicelink.CardIDSize)
	copy(cardID, "CARD_PROV_TEST_000000000000000001")
	blob := make([]byte, BlobSize)
	copy(blob[2*devicelink.NonceSize:], cardID)

	cardTr.Feed([]byte{devicelink.Accepted})

	pin := []byte("13371337")
	pk := cryptoops.DerivePublicKey(pin)
	cardTr.Feed([]byte{devicelink.ReturnNewPK})
	cardTr.Feed(pk)

	_, err := v.AdminCreateAccount(context.Background(), "dana", string(cardID), 0)
	require.NoError(t, err)

	err = ProvisionCard(card, client, blob, pin)
	require.NoError(t, err)

	stored, err := v.GetPK(context.Background(), string(cardID))
	require.NoError(t, err)
	require.Equal(t, pk, stored)
}

func TestProvisionCardRejectsBadBlob(t *testing.T) {
	client, _ := newBankClient(t)
	cardLink, _ := attachedFakeLink(t, devicelink.RoleCard)
	card := cardproxy.New(cardLink)

	err := ProvisionCard(card, client, make([]byte, BlobSize-1), []byte("13371337"))
	require.ErrorIs(t, err, ErrBadBlobLength)
}

func TestProvisionCardSurfacesDeviceRejection(t *testing.T) {
	client, _ := newBankClient(t)
	cardLink, cardTr := attachedFakeLink(t, devicelink.RoleCard)
	card := cardproxy.New(cardLink)

	cardTr.Feed([]byte{devicelink.Rejected})

	blob := make([]byte, BlobSize)
	err := ProvisionCard(card, client, blob, []byte("13371337"))
	require.Error(t, err)
}

func TestProvisionATMEndToEnd(t *testing.T) {
	client, v := newBankClient(t)
	hsmLink, hsmTr := attachedFakeLink(t, devicelink.RoleHSM)
	hsm := hsmproxy.New(hsmLink)

	hsmID := make([]byte, devicelink.UUIDSize)
	copy(hsmID, "HSM_PROV_TEST_0000000000000000001")
	blob := make([]byte, BlobSize)
	copy(blob[2*devicelink.NonceSize:], hsmID)

	bills := [][]byte{[]byte("bill-one"), []byte("bill-two"), []byte("bill-three")}
	for range bills {
		hsmTr.Feed([]byte{devicelink.BillReceived})
	}
	hsmTr.Feed([]byte{devicelink.Accepted})

	hsmKey := make([]byte, cryptoops.SealKeySize)
	_, err := v.AdminCreateATM(context.Background(), string(hsmID), hsmKey)
	require.NoError(t, err)

	err = ProvisionATM(hsm, client, blob, bills)
	require.NoError(t, err)

	// num_bills is write-once; a second call failing confirms ProvisionATM
	// actually recorded it rather than silently no-oping.
	require.ErrorIs(t, v.SetInitialNumBills(context.Background(), string(hsmID), 1), verifier.ErrAlreadySet)
}

func TestProvisionATMRejectsBadBlob(t *testing.T) {
	client, _ := newBankClient(t)
	hsmLink, _ := attachedFakeLink(t, devicelink.RoleHSM)
	hsm := hsmproxy.New(hsmLink)

	err := ProvisionATM(hsm, client, make([]byte, BlobSize+1), nil)
	require.ErrorIs(t, err, ErrBadBlobLength)
}
