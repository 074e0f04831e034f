package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "")
	t.Setenv("DEFAULT_WAREHOUSE_ID", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StockTTLSeconds != 15 {
		t.Fatalf("expected default TTL 15, got %d", cfg.StockTTLSeconds)
	}
	if cfg.DefaultWarehouseID != 1 {
		t.Fatalf("expected default warehouse 1, got %d", cfg.DefaultWarehouseID)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %q", cfg.Address())
	}
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "-5")
	t.Setenv("DEFAULT_WAREHOUSE_ID", "zero")

	cfg := Load()
	if cfg.StockTTLSeconds != 15 {
		t.Fatalf("expected TTL fallback 15, got %d", cfg.StockTTLSeconds)
	}
	if cfg.DefaultWarehouseID != 1 {
		t.Fatalf("expected warehouse fallback 1, got %d", cfg.DefaultWarehouseID)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "60")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.StockTTLSeconds != 60 {
		t.Fatalf("expected TTL 60, got %d", cfg.StockTTLSeconds)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.LogLevel)
	}
}
