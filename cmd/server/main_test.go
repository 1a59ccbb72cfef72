package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"

	"slidesync/internal/config"
)

// TestBindServerFlags every serve flag reaches the loaded config
func TestBindServerFlags(t *testing.T) {
	v := config.New()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	if err := bindServerFlags(v, flags); err != nil {
		t.Fatalf("bindServerFlags failed: %v", err)
	}

	err := flags.Parse([]string{
		"--transport=echo",
		"--http-addr=127.0.0.1:7000",
		"--room-idle-timeout=5m",
		"--cleanup-interval=15s",
		"--shutdown-timeout=3s",
		"--cors-allow=https://deck.example",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport != config.TransportEcho || cfg.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("string flags not applied: %+v", cfg)
	}
	if cfg.RoomIdleTimeout != 5*time.Minute || cfg.CleanupInterval != 15*time.Second || cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("duration flags not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://deck.example" {
		t.Errorf("unexpected origins %q", cfg.CORSOrigins)
	}
}

// TestBindServerFlagsDefaults unset flags leave the config defaults alone
func TestBindServerFlagsDefaults(t *testing.T) {
	v := config.New()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	if err := bindServerFlags(v, flags); err != nil {
		t.Fatalf("bindServerFlags failed: %v", err)
	}
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RoomIdleTimeout != 30*time.Minute || cfg.CleanupInterval != time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
