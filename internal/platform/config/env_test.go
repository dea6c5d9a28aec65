package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Addr string `env:"OMNISCRIPT_TEST_ADDR" envDefault:":9200"`
	Port int    `env:"OMNISCRIPT_TEST_PORT" envDefault:"9200"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9200" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, ":9200")
	}
	if cfg.Port != 9200 {
		t.Fatalf("port = %d, want 9200", cfg.Port)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("OMNISCRIPT_TEST_PORT", "7001")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("port = %d, want 7001", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("OMNISCRIPT_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
