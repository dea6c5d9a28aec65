package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

func TestParseConfigFromArgs(t *testing.T) {
	type cfg struct {
		Addr string `env:"OMNISCRIPT_ENTRYPOINT_TEST_ADDR" envDefault:":9200"`
	}

	var c cfg
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")

	if err := ParseConfigFromArgs(&c, fs, []string{"-addr", ":7777"}); err != nil {
		t.Fatalf("parse config from args: %v", err)
	}
	if c.Addr != ":7777" {
		t.Fatalf("addr = %q, want %q", c.Addr, ":7777")
	}
}

func TestParseConfigNilTarget(t *testing.T) {
	if err := ParseConfig[struct{}](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), "  ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("OMNISCRIPT_OTEL_ENDPOINT", "")

	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), "relay", func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
