// cmd/provision is a one-shot operator tool: it provisions exactly one
// card or one ATM per invocation, then exits. It never launches a long
// running server and holds no state across runs.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"atmcore/internal/bank/rpc"
	"atmcore/internal/cardproxy"
	"atmcore/internal/cryptoops"
	"atmcore/internal/devicelink"
	"atmcore/internal/hsmproxy"
	"atmcore/internal/provisioning"
)

var logger = log.New(os.Stderr, "[provision] ", log.LstdFlags)

func main() {
	mode := flag.String("mode", "", "card or atm")
	bankAddr := flag.String("bank", "127.0.0.1:7700", "bank RPC address")
	port := flag.String("port", "", "serial port for the device being provisioned")
	id := flag.String("id", "", "explicit card_id/hsm_id; generated from a UUID if empty")
	pin := flag.String("pin", "", "initial PIN (card mode only)")
	bills := flag.String("bills", "", "comma-separated bill denominations to load (ATM mode only)")
	waitTimeout := flag.Duration("wait", 30*time.Second, "how long to wait for the device to be inserted")
	flag.Parse()

	if err := run(*mode, *bankAddr, *port, *id, *pin, *bills, *waitTimeout); err != nil {
		logger.Fatalf("provisioning failed: %v", err)
	}
}

func run(mode, bankAddr, port, id, pin, bills string, waitTimeout time.Duration) error {
	if port == "" {
		return fmt.Errorf("-port is required")
	}

	resolvedID := id
	if resolvedID == "" {
		resolvedID = provisioning.NewCardID(uuid.New().String())
	}

	client := rpc.NewClient(bankAddr)

	switch mode {
	case "card":
		return runProvisionCard(client, port, resolvedID, pin, waitTimeout)
	case "atm":
		return runProvisionATM(client, port, resolvedID, bills, waitTimeout)
	default:
		return fmt.Errorf("-mode must be \"card\" or \"atm\", got %q", mode)
	}
}

func runProvisionCard(client *rpc.Client, port, cardID, pin string, waitTimeout time.Duration) error {
	if len(pin) != devicelink.PinSize {
		return fmt.Errorf("-pin must be exactly %d characters", devicelink.PinSize)
	}

	link, err := attach(devicelink.RoleCard, port, waitTimeout)
	if err != nil {
		return fmt.Errorf("attach card: %w", err)
	}
	defer link.Close()

	blob, err := buildBlob(cardID)
	if err != nil {
		return err
	}

	if err := provisioning.ProvisionCard(cardproxy.New(link), client, blob, []byte(pin)); err != nil {
		return fmt.Errorf("provision card: %w", err)
	}

	logger.Printf("card provisioned: card_id=%s", strings.TrimRight(cardID, "\x00"))
	copyToClipboard(cardID)
	return nil
}

func runProvisionATM(client *rpc.Client, port, hsmID, billsCSV string, waitTimeout time.Duration) error {
	bills, err := parseBills(billsCSV)
	if err != nil {
		return err
	}

	link, err := attach(devicelink.RoleHSM, port, waitTimeout)
	if err != nil {
		return fmt.Errorf("attach hsm: %w", err)
	}
	defer link.Close()

	blob, err := buildBlob(hsmID)
	if err != nil {
		return err
	}

	if err := provisioning.ProvisionATM(hsmproxy.New(link), client, blob, bills); err != nil {
		return fmt.Errorf("provision atm: %w", err)
	}

	logger.Printf("atm provisioned: hsm_id=%s bills=%d", strings.TrimRight(hsmID, "\x00"), len(bills))
	copyToClipboard(hsmID)
	return nil
}

// buildBlob fills out the 100-byte key/rand_key/id layout ProvisionCard and
// ProvisionATM expect. The key and rand_key halves are random since the
// device itself derives its working secret from them during the handshake;
// only the id half is operator-supplied.
func buildBlob(id string) ([]byte, error) {
	blob := make([]byte, provisioning.BlobSize)
	key, err := cryptoops.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	randKey, err := cryptoops.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("generate rand_key: %w", err)
	}
	copy(blob, key)
	copy(blob[devicelink.NonceSize:], randKey)
	copy(blob[2*devicelink.NonceSize:], id)
	return blob, nil
}

func attach(role devicelink.Role, port string, waitTimeout time.Duration) (*devicelink.Link, error) {
	watcher := devicelink.NewPortWatcherWithLister(200*time.Millisecond, func() ([]string, error) {
		return []string{port}, nil
	})
	factory := func(p string) (devicelink.Transport, error) { return devicelink.NewTTYTransport(p) }
	link := devicelink.NewLink(role, factory, watcher)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := link.Attach(ctx, true); err != nil {
		return nil, err
	}
	return link, nil
}

func parseBills(csv string) ([][]byte, error) {
	if csv == "" {
		return nil, fmt.Errorf("-bills is required in atm mode")
	}
	parts := strings.Split(csv, ",")
	bills := make([][]byte, 0, len(parts))
	for _, p := range parts {
		denom, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid bill denomination %q: %w", p, err)
		}
		bill := make([]byte, devicelink.BillSize)
		bill[0] = byte(denom >> 8)
		bill[1] = byte(denom)
		bills = append(bills, bill)
	}
	return bills, nil
}

func copyToClipboard(id string) {
	if err := clipboard.WriteAll(base64.StdEncoding.EncodeToString([]byte(id))); err != nil {
		logger.Printf("clipboard copy skipped: %v", err)
	}
}
