package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsAndDerivedWSURL(t *testing.T) {
	t.Setenv("CHESS_API_BASE_URL", "http://localhost:8080/")
	t.Setenv("CHESS_WS_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("base url not trimmed: %q", cfg.APIBaseURL)
	}
	if cfg.WSURL != "ws://localhost:8080/ws" {
		t.Fatalf("unexpected ws url: %q", cfg.WSURL)
	}
	if cfg.ReconnectDelay != 5*time.Second || cfg.Heartbeat != 4*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.UserPrefix != "/user/queue" || cfg.TopicPrefix != "/topic" || cfg.AppPrefix != "/app" {
		t.Fatalf("unexpected prefixes: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHESS_API_BASE_URL", "https://chess.example.com")
	t.Setenv("CHESS_WS_URL", "wss://push.example.com/ws")
	t.Setenv("CHESS_RECONNECT_DELAY", "2500")
	t.Setenv("CHESS_HEARTBEAT", "10s")
	t.Setenv("CHESS_MAX_RECONNECT", "0")
	t.Setenv("CHESS_CONFIRM_TIMEOUT", "garbage")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WSURL != "wss://push.example.com/ws" {
		t.Fatalf("ws url override ignored: %q", cfg.WSURL)
	}
	if cfg.ReconnectDelay != 2500*time.Millisecond || cfg.Heartbeat != 10*time.Second {
		t.Fatalf("duration overrides not applied: %+v", cfg)
	}
	if cfg.MaxReconnectAttempts != 0 {
		t.Fatalf("expected unlimited reconnects, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.ConfirmTimeout != 10*time.Second {
		t.Fatalf("invalid value should keep default, got %v", cfg.ConfirmTimeout)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("CHESS_API_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without CHESS_API_BASE_URL")
	}
}
