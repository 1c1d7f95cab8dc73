package main

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{port: 8080, tick: 100 * time.Millisecond}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		anyErr  bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "tls pair", mutate: func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }},
		{name: "cert only", mutate: func(c *Config) { c.tlsCert = "cert.pem" }, wantErr: ErrIncompleteTLS},
		{name: "key only", mutate: func(c *Config) { c.tlsKey = "key.pem" }, wantErr: ErrIncompleteTLS},
		{name: "port zero", mutate: func(c *Config) { c.port = 0 }, anyErr: true},
		{name: "port too high", mutate: func(c *Config) { c.port = 70000 }, anyErr: true},
		{name: "zero tick", mutate: func(c *Config) { c.tick = 0 }, wantErr: ErrInvalidTick},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.validate()
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("validate() = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("validate() = nil, want an error")
				}
			case err != nil:
				t.Fatalf("validate() = %v", err)
			}
		})
	}
}

func TestScheme(t *testing.T) {
	cfg := &Config{}
	if cfg.scheme() != "http" {
		t.Fatalf("scheme = %s", cfg.scheme())
	}

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	if cfg.scheme() != "https" {
		t.Fatalf("scheme = %s", cfg.scheme())
	}
}

func TestFlagDefaults(t *testing.T) {
	cfg := &Config{}
	newCmd(cfg)

	if cfg.port != 8080 || cfg.bind != "0.0.0.0" {
		t.Fatalf("bind %s port %d", cfg.bind, cfg.port)
	}
	if cfg.tick != 100*time.Millisecond || cfg.sessionTimeout != time.Hour {
		t.Fatalf("tick %s session timeout %s", cfg.tick, cfg.sessionTimeout)
	}
	if cfg.resultsDir != "" {
		t.Fatalf("results dir %q, want recording disabled", cfg.resultsDir)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("NAMERACE_PORT", "9090")
	t.Setenv("NAMERACE_TICK", "250ms")
	t.Setenv("NAMERACE_RESULTS_DIR", "/tmp/races")

	cfg := &Config{}
	newCmd(cfg)

	if cfg.port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.port)
	}
	if cfg.tick != 250*time.Millisecond {
		t.Fatalf("tick = %s, want 250ms", cfg.tick)
	}
	if cfg.resultsDir != "/tmp/races" {
		t.Fatalf("results dir = %q", cfg.resultsDir)
	}
}
