package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetEnvCache(t *testing.T) {
	t.Helper()
	rawEnv = nil
}

func TestLoadBankdConfigReadsEnvFile(t *testing.T) {
	resetEnvCache(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"BANKD_DB_PATH=/var/lib/bankd/bank.db\nBANKD_RPC_ADDR=0.0.0.0:7700\n"), 0644))

	withWorkingDir(t, dir, func() {
		cfg, err := LoadBankdConfig()
		require.NoError(t, err)
		require.Equal(t, "/var/lib/bankd/bank.db", cfg.DBPath)
		require.Equal(t, "0.0.0.0:7700", cfg.RPCAddr)
	})
}

func TestLoadBankdConfigEnvVarOverridesFile(t *testing.T) {
	resetEnvCache(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BANKD_DB_PATH=/from/file.db\n"), 0644))
	t.Setenv("BANKD_DB_PATH", "/from/env.db")

	withWorkingDir(t, dir, func() {
		cfg, err := LoadBankdConfig()
		require.NoError(t, err)
		require.Equal(t, "/from/env.db", cfg.DBPath)
	})
}

func TestLoadAtmdConfigParsesUIFlag(t *testing.T) {
	resetEnvCache(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"ATMD_BANK_ADDR=127.0.0.1:7700\nATMD_UI=true\nATMD_TRACE_IFACE=eth0\n"), 0644))

	withWorkingDir(t, dir, func() {
		cfg, err := LoadAtmdConfig()
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:7700", cfg.BankAddr)
		require.True(t, cfg.UI)
		require.Equal(t, "eth0", cfg.TraceIface)
	})
}

func TestLoadAtmdConfigDefaultsToEmptyWithoutEnvFile(t *testing.T) {
	resetEnvCache(t)
	dir := t.TempDir()

	withWorkingDir(t, dir, func() {
		cfg, err := LoadAtmdConfig()
		require.NoError(t, err)
		require.Equal(t, "", cfg.BankAddr)
		require.False(t, cfg.UI)
	})
}

func withWorkingDir(t *testing.T, dir string, fn func()) {
	t.Helper()
	original, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(original) })
	fn()
}
