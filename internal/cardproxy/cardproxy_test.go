package cardproxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"atmcore/internal/devicelink"
)

// newReadyProxy attaches a Proxy to a fake transport that answers the sync
// handshake immediately, so individual operation tests don't repeat it.
func newReadyProxy(t *testing.T, provision bool) (*Proxy, *devicelink.FakeTransport) {
	t.Helper()
	fake := devicelink.NewFakeTransport()
	fake.Feed([]byte{devicelink.SyncTypeCardNormal})
	if provision {
		fake.Feed([]byte{devicelink.SyncConfirmedNoProv})
	} else {
		fake.Feed([]byte{devicelink.SyncConfirmedProv})
	}

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

	link := devicelink.NewLink(devicelink.RoleCard, func(string) (devicelink.Transport, error) {
		return fake, nil
	}, w)
	p := New(link)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ports = []string{"/dev/ttyCARD0"}
		mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Attach(ctx, provision))
	return p, fake
}

func TestGetCardID(t *testing.T) {
	p, fake := newReadyProxy(t, false)
	id := "CARD_0000000000000000000000000000001"
	padded := make([]byte, devicelink.CardIDSize)
	copy(padded, id)
	fake.Feed([]byte{devicelink.ReturnName})
	fake.Feed(padded)

	got, err := p.GetCardID()
	require.NoError(t, err)
	require.Equal(t, string(padded), got)
}

func TestGetCardIDRejection(t *testing.T) {
	p, fake := newReadyProxy(t, false)
	fake.Feed([]byte{devicelink.Rejected})
	fake.Feed(make([]byte, devicelink.CardIDSize))

	_, err := p.GetCardID()
	require.ErrorIs(t, err, ErrCardRejected)
}

func TestSignNonce(t *testing.T) {
	p, fake := newReadyProxy(t, false)
	sig := make([]byte, devicelink.SignatureSize)
	for i := range sig {
		sig[i] = byte(i)
	}
	fake.Feed([]byte{devicelink.ReturnCardSignature})
	fake.Feed(sig)

	nonce := make([]byte, devicelink.NonceSize)
	pin := []byte("12345678")
	got, err := p.SignNonce(nonce, pin)
	require.NoError(t, err)
	require.Equal(t, sig, got)

	sent := fake.Sent()
	last := sent[len(sent)-1]
	require.Equal(t, devicelink.RequestCardSignature, last[0])
	require.Equal(t, nonce, last[1:1+devicelink.NonceSize])
	require.Equal(t, pin, last[1+devicelink.NonceSize:])
}

func TestSignNonceRejectsBadLengths(t *testing.T) {
	p, _ := newReadyProxy(t, false)
	_, err := p.SignNonce(make([]byte, 10), []byte("12345678"))
	require.Error(t, err)
	_, err = p.SignNonce(make([]byte, devicelink.NonceSize), []byte("short"))
	require.Error(t, err)
}

func TestRequestNewPublicKey(t *testing.T) {
	p, fake := newReadyProxy(t, false)
	pk := make([]byte, devicelink.PublicKeySize)
	pk[0] = 0xAB
	fake.Feed([]byte{devicelink.ReturnNewPK})
	fake.Feed(pk)

	got, err := p.RequestNewPublicKey([]byte("87654321"))
	require.NoError(t, err)
	require.Equal(t, pk, got)
}

func TestProvisionAccepted(t *testing.T) {
	p, fake := newReadyProxy(t, true)
	fake.Feed([]byte{devicelink.Accepted})

	r := make([]byte, devicelink.NonceSize)
	randKey := make([]byte, devicelink.NonceSize)
	uuid := make([]byte, devicelink.UUIDSize)
	copy(uuid, "CARD_PROVISIONED_ID")

	err := p.Provision(r, randKey, string(uuid))
	require.NoError(t, err)
}

func TestProvisionRejected(t *testing.T) {
	p, fake := newReadyProxy(t, true)
	fake.Feed([]byte{devicelink.Rejected})

	r := make([]byte, devicelink.NonceSize)
	randKey := make([]byte, devicelink.NonceSize)
	uuid := make([]byte, devicelink.UUIDSize)

	err := p.Provision(r, randKey, string(uuid))
	require.ErrorIs(t, err, ErrCardRejected)
}

func TestGetCardIDTranslatesDeviceRemoved(t *testing.T) {
	p, fake := newReadyProxy(t, false)
	fake.SimulateRemoval()

	_, err := p.GetCardID()
	require.ErrorIs(t, err, devicelink.ErrDeviceRemoved)
}
