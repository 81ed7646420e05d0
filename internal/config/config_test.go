package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Port)
	}
	if cfg.MaxNonces != 500_000 {
		t.Errorf("max nonces = %d, want 500000", cfg.MaxNonces)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9100")
	t.Setenv("MAX_NONCES", "1000000")
	t.Setenv("API_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("INGEST_TOKEN", "secret")

	cfg := Load()
	if cfg.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Port)
	}
	if cfg.MaxNonces != 1_000_000 {
		t.Errorf("max nonces = %d, want 1000000", cfg.MaxNonces)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.IngestToken != "secret" {
		t.Errorf("ingest token = %q", cfg.IngestToken)
	}
}

func TestLoadRejectsBadInts(t *testing.T) {
	t.Setenv("API_PORT", "not-a-number")
	t.Setenv("MAX_NONCES", "-5")

	cfg := Load()
	if cfg.Port != 8000 || cfg.MaxNonces != 500_000 {
		t.Errorf("bad values should fall back: port=%d max=%d", cfg.Port, cfg.MaxNonces)
	}
}
