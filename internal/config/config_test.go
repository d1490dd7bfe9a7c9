package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("CHAIN_MODE", "mock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.ChainTimeout != 10*time.Second {
		t.Errorf("ChainTimeout = %v, want 10s", cfg.ChainTimeout)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}
	if cfg.EventBufferLimit != 1024 {
		t.Errorf("EventBufferLimit = %d, want 1024", cfg.EventBufferLimit)
	}
	if cfg.WorkerIdleTimeout != 5*time.Minute {
		t.Errorf("WorkerIdleTimeout = %v, want 5m", cfg.WorkerIdleTimeout)
	}
}

func TestLoad_TrustedSignersList(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("CHAIN_MODE", "live")
	t.Setenv("CHAIN_RELAYER_URL", "http://relayer:9000")
	t.Setenv("TRUSTED_SIGNERS", "KeyA, KeyB,KeyC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := []string{"KeyA", "KeyB", "KeyC"}
	if strings.Join(cfg.TrustedSigners, "|") != strings.Join(want, "|") {
		t.Fatalf("TrustedSigners = %v, want %v", cfg.TrustedSigners, want)
	}
}

func TestLoad_FailsWhenDatabaseMissing(t *testing.T) {
	t.Setenv("USE_MEMORY", "false")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHAIN_MODE", "mock")

	_, err := Load()
	if err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected error to mention DATABASE_URL, got %v", err)
	}
}

func TestLoad_FailsOnUnknownChainMode(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("CHAIN_MODE", "testnet")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown CHAIN_MODE error")
	}
}
