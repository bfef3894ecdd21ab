package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() should validate cleanly, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Mode = "turbo" },
			want:   "unknown mode",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
			want:   "unknown log_level",
		},
		{
			name:   "bad server port",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			want:   "server: port",
		},
		{
			name: "rpc url without contract",
			mutate: func(c *Config) {
				c.Chain.RPCURL = "https://rpc.example.com"
				c.Chain.PrivateKey = "deadbeef"
			},
			want: "chain: contract_address",
		},
		{
			name: "rpc url without key",
			mutate: func(c *Config) {
				c.Chain.RPCURL = "https://rpc.example.com"
				c.Chain.ContractAddress = "0xabc"
			},
			want: "chain: either private_key or keystore_path",
		},
		{
			name:   "fee bps out of range",
			mutate: func(c *Config) { c.Fees.PlatformFeeBps = 10_000 },
			want:   "fees: platform_fee_bps",
		},
		{
			name: "fine window shorter than interval",
			mutate: func(c *Config) {
				c.Sweep.FineInterval = duration{2 * time.Second}
				c.Sweep.FineWindow = duration{time.Second}
			},
			want: "sweep: fine_window",
		},
		{
			name: "archive enabled without bucket",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Bucket = ""
			},
			want: "s3: bucket",
		},
		{
			name: "pool mins exceed max",
			mutate: func(c *Config) {
				c.Postgres.PoolMinConns = 20
				c.Postgres.PoolMaxConns = 10
			},
			want: "pool_min_conns must not exceed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAGERD_MODE", "worker")
	t.Setenv("WAGERD_POSTGRES_DSN", "postgres://u:p@db:5432/wagerd")
	t.Setenv("WAGERD_SWEEP_COARSE_INTERVAL", "30s")
	t.Setenv("WAGERD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WAGERD_CHAIN_WAIT_MINED", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "worker" {
		t.Errorf("Mode = %q, want worker", cfg.Mode)
	}
	if cfg.Postgres.DSN != "postgres://u:p@db:5432/wagerd" {
		t.Errorf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.Sweep.CoarseInterval.Duration != 30*time.Second {
		t.Errorf("CoarseInterval = %v, want 30s", cfg.Sweep.CoarseInterval.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Chain.WaitMined {
		t.Error("WaitMined should be overridden to false")
	}
}

func TestEnvOverrideIgnoresEmptyAndMalformed(t *testing.T) {
	t.Setenv("WAGERD_SERVER_PORT", "not-a-number")
	t.Setenv("WAGERD_REDIS_ADDR", "")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want default 8000", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Chain.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "topsecret"
	cfg.S3.SecretKey = "s3secret"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"chain private key": red.Chain.PrivateKey,
		"server api key":    red.Server.APIKey,
		"s3 secret key":     red.S3.SecretKey,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}

	// Originals must be untouched.
	if cfg.Postgres.Password != "hunter2" {
		t.Error("redaction mutated the original config")
	}

	// Empty secrets stay empty rather than becoming "***".
	if red.Redis.Password != "" {
		t.Errorf("empty secret became %q", red.Redis.Password)
	}

	// Slice copies must be independent.
	red.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" {
		t.Error("CORSOrigins slice is shared with the original")
	}
}
