// cmd/bankd is the bank process: it owns the sqlite-backed account/ATM
// store, the nonce-issuing verification core, the customer-facing RPC
// listener, and a separate admin HTTP surface for operator tooling.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atmcore/internal/bank/adminapi"
	"atmcore/internal/bank/rpc"
	"atmcore/internal/bank/store"
	"atmcore/internal/bank/verifier"
	"atmcore/internal/config"
)

var logger = log.New(os.Stdout, "[bankd] ", log.LstdFlags)

func main() {
	defaults, err := config.LoadBankdConfig()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	dbPath := flag.String("db", firstNonEmpty(defaults.DBPath, "bank.db"), "path to the sqlite database file")
	rpcAddr := flag.String("rpc-addr", firstNonEmpty(defaults.RPCAddr, "0.0.0.0:7700"), "RPC listen address")
	adminAddr := flag.String("admin-addr", firstNonEmpty(defaults.AdminAddr, "0.0.0.0:7701"), "admin HTTP listen address")
	flag.Parse()

	if err := run(*dbPath, *rpcAddr, *adminAddr); err != nil {
		logger.Fatalf("bankd exited: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(dbPath, rpcAddr, adminAddr string) error {
	logger.Printf("opening store at %s", dbPath)
	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	v := verifier.New(s)

	rpcServer, err := rpc.NewServer(v, rpcAddr)
	if err != nil {
		return err
	}

	admin := adminapi.NewServer(v)
	httpServer := &http.Server{Addr: adminAddr, Handler: admin.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		logger.Printf("rpc listening on %s", rpcServer.Addr())
		errCh <- rpcServer.Serve(ctx)
	}()

	go func() {
		logger.Printf("admin api listening on %s", adminAddr)
		admin.MarkReady()
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Printf("server error: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("admin api shutdown: %v", err)
	}
	return nil
}
