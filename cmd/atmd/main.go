// cmd/atmd is the ATM backend process: it keeps a card link and an HSM
// link attached, accepts one customer operation at a time over a minimal
// stdin keypad simulation, and drives AtmOrchestrator against a bank RPC
// connection. With -ui it instead shows a live status dashboard and
// leaves operation entry to a future real keypad integration.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"atmcore/internal/atm"
	"atmcore/internal/bank/rpc"
	"atmcore/internal/cardproxy"
	"atmcore/internal/config"
	"atmcore/internal/devicelink"
	"atmcore/internal/hsmproxy"
	"atmcore/internal/statusui"
)

var logger = log.New(os.Stdout, "[atmd] ", log.LstdFlags)

func main() {
	defaults, err := config.LoadAtmdConfig()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	bankAddr := flag.String("bank", firstNonEmpty(defaults.BankAddr, "127.0.0.1:7700"), "bank RPC address")
	cardPort := flag.String("card-port", defaults.CardPort, "fixed card serial port; empty autodetects")
	hsmPort := flag.String("hsm-port", defaults.HSMPort, "fixed HSM serial port; empty autodetects")
	useUI := flag.Bool("ui", defaults.UI, "show the live status dashboard instead of the stdin keypad")
	traceIface := flag.String("iface", defaults.TraceIface, "network interface backing the serial host controller to sample I/O latency from; empty disables tracing")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutting down")
		cancel()
	}()

	status := newStatus()

	cardLink := buildLink(devicelink.RoleCard, *cardPort)
	hsmLink := buildLink(devicelink.RoleHSM, *hsmPort)
	go maintainLink(ctx, cardLink, status.setCardState)
	go maintainLink(ctx, hsmLink, status.setHSMState)

	if *traceIface != "" {
		go runTracer(ctx, *traceIface)
	}

	client := rpc.NewClient(*bankAddr)
	orchestrator := atm.New(cardproxy.New(cardLink), hsmproxy.New(hsmLink), client)

	if *useUI {
		p := tea.NewProgram(statusui.New(status))
		if _, err := p.Run(); err != nil {
			logger.Fatalf("ui: %v", err)
		}
		return
	}

	runKeypad(ctx, orchestrator, status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func buildLink(role devicelink.Role, fixedPort string) *devicelink.Link {
	factory := func(p string) (devicelink.Transport, error) { return devicelink.NewTTYTransport(p) }

	if fixedPort != "" {
		watcher := devicelink.NewPortWatcherWithLister(time.Second, func() ([]string, error) {
			return []string{fixedPort}, nil
		})
		return devicelink.NewLink(role, factory, watcher)
	}
	return devicelink.NewLink(role, factory, devicelink.NewPortWatcher(250*time.Millisecond))
}

// maintainLink keeps a device link attached, re-attaching after a removal
// is detected, and publishes every state transition to report.
func maintainLink(ctx context.Context, link *devicelink.Link, report func(devicelink.State)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		report(devicelink.StateSearching)
		if err := link.Attach(ctx, false); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Printf("%s: attach: %v", link.Role(), err)
			time.Sleep(time.Second)
			continue
		}
		report(link.State())

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			st := link.State()
			report(st)
			if st == devicelink.StateSearching || st == devicelink.StateClosed {
				break
			}
		}
	}
}

// runTracer attaches an eBPF latency tracer to ifaceName and logs samples
// until ctx is cancelled. A tracer attach failure is logged and dropped:
// -iface is best-effort observability, never a condition for refusing to
// serve customers.
func runTracer(ctx context.Context, ifaceName string) {
	tracer, err := devicelink.NewTracer(ifaceName)
	if err != nil {
		logger.Printf("tracer: attach to %s: %v", ifaceName, err)
		return
	}
	defer tracer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, err := tracer.Events()
		if err != nil {
			logger.Printf("tracer: %v", err)
			return
		}
		logger.Printf("tracer: io latency %dns", ev.DurationNs)
	}
}

// runKeypad is a minimal stand-in for a physical PIN pad: it reads a PIN
// and an operation choice from stdin and drives one orchestrator call at
// a time.
func runKeypad(ctx context.Context, orchestrator *atm.Orchestrator, status *atmStatus) {
	logger.Printf("ready: enter a PIN to begin a session, or Ctrl+D to exit")
	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("PIN: ")
		pin, err := readLine(reader)
		if err != nil {
			return
		}
		if pin == "" {
			continue
		}

		fmt.Print("operation [balance/withdraw <amount>/pin <new>]: ")
		op, err := readLine(reader)
		if err != nil {
			return
		}

		result, opErr := runOperation(orchestrator, []byte(pin), op)
		status.recordOperation(op, opErr)
		if opErr != nil {
			fmt.Printf("error: %v\n", opErr)
			continue
		}
		fmt.Println(result)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runOperation(orchestrator *atm.Orchestrator, pin []byte, op string) (string, error) {
	fields := strings.Fields(op)
	if len(fields) == 0 {
		return "", fmt.Errorf("no operation given")
	}

	switch fields[0] {
	case "balance":
		balance, err := orchestrator.CheckBalance(pin)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("balance: %d", balance), nil

	case "withdraw":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: withdraw <amount>")
		}
		amount, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid amount: %w", err)
		}
		bills, err := orchestrator.Withdraw(pin, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("dispensed %d bills", len(bills)), nil

	case "pin":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: pin <new-pin>")
		}
		if err := orchestrator.ChangePIN(pin, []byte(fields[1])); err != nil {
			return "", err
		}
		return "pin changed", nil

	default:
		return "", fmt.Errorf("unknown operation %q", fields[0])
	}
}

// atmStatus implements statusui.StatusSource over the two maintained
// links, guarded by a mutex since the UI and the link-maintenance
// goroutines run concurrently.
type atmStatus struct {
	mu            sync.Mutex
	cardState     devicelink.State
	hsmState      devicelink.State
	lastOperation string
	lastError     error
}

func newStatus() *atmStatus {
	return &atmStatus{cardState: devicelink.StateSearching, hsmState: devicelink.StateSearching}
}

func (s *atmStatus) setCardState(st devicelink.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cardState = st
}

func (s *atmStatus) setHSMState(st devicelink.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsmState = st
}

func (s *atmStatus) recordOperation(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOperation = op
	s.lastError = err
}

func (s *atmStatus) Snapshot() statusui.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statusui.Snapshot{
		CardState:     s.cardState,
		HSMState:      s.hsmState,
		LastOperation: s.lastOperation,
		LastError:     s.lastError,
		UpdatedAt:     time.Now(),
	}
}
