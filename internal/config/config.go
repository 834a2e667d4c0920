package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	APIBaseURL string
	WSURL      string

	UserID   string
	Passcode string

	// STOMP destination prefixes
	AppPrefix   string
	UserPrefix  string
	TopicPrefix string

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Heartbeat            time.Duration
	ConfirmTimeout       time.Duration
	DirectoryRefresh     time.Duration
	HTTPTimeout          time.Duration

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Passcode:             "password",
		AppPrefix:            "/app",
		UserPrefix:           "/user/queue",
		TopicPrefix:          "/topic",
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		Heartbeat:            4 * time.Second,
		ConfirmTimeout:       10 * time.Second,
		DirectoryRefresh:     15 * time.Second,
		HTTPTimeout:          10 * time.Second,
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CHESS_API_BASE_URL")), "/")
	cfg.WSURL = strings.TrimSpace(os.Getenv("CHESS_WS_URL"))
	cfg.UserID = strings.TrimSpace(os.Getenv("CHESS_USER_ID"))
	if v := strings.TrimSpace(os.Getenv("CHESS_PASSCODE")); v != "" {
		cfg.Passcode = v
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("CHESS_MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("CHESS_APP_PREFIX")); v != "" {
		cfg.AppPrefix = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_USER_PREFIX")); v != "" {
		cfg.UserPrefix = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_TOPIC_PREFIX")); v != "" {
		cfg.TopicPrefix = strings.TrimRight(v, "/")
	}

	if d, ok := durationEnv("CHESS_RECONNECT_DELAY"); ok {
		cfg.ReconnectDelay = d
	}
	if d, ok := durationEnv("CHESS_HEARTBEAT"); ok {
		cfg.Heartbeat = d
	}
	if d, ok := durationEnv("CHESS_CONFIRM_TIMEOUT"); ok {
		cfg.ConfirmTimeout = d
	}
	if d, ok := durationEnv("CHESS_DIRECTORY_REFRESH"); ok {
		cfg.DirectoryRefresh = d
	}
	if d, ok := durationEnv("CHESS_HTTP_TIMEOUT"); ok {
		cfg.HTTPTimeout = d
	}
	// 0 means retry forever
	if v := strings.TrimSpace(os.Getenv("CHESS_MAX_RECONNECT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxReconnectAttempts = n
		}
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("CHESS_API_BASE_URL is required")
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.APIBaseURL)
	}
	if cfg.WSURL == "" {
		return nil, errors.New("CHESS_WS_URL is required")
	}
	return cfg, nil
}

// durationEnv accepts Go durations ("5s") or plain milliseconds ("5000").
func durationEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond, true
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}

// deriveWSURL maps http(s)://host to ws(s)://host/ws.
func deriveWSURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return ""
	}
	u.Path = "/ws"
	return u.String()
}
