package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode = %q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if cfg.MaxClients != 0 {
		t.Fatalf("MaxClients = %d, want 0 (unlimited)", cfg.MaxClients)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes = %d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.SendQueueSize != DefaultSendQueueSize {
		t.Fatalf("SendQueueSize = %d, want %d", cfg.SendQueueSize, DefaultSendQueueSize)
	}
}

func TestLoad_ProdModeDefaultsToJSONInfo(t *testing.T) {
	env := map[string]string{
		"SIGNAL_RELAY_MODE": "prod",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("Mode = %q, want prod", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"SIGNAL_RELAY_LISTEN_ADDR":          "0.0.0.0:9000",
		"SIGNAL_RELAY_SHUTDOWN_TIMEOUT":     "5s",
		"ALLOWED_ORIGINS":                   "https://app.example.com, http://localhost:3000",
		"MAX_CLIENTS":                       "100",
		"MAX_SIGNALING_MESSAGE_BYTES":       "4096",
		"MAX_SIGNALING_MESSAGES_PER_SECOND": "10",
		"SIGNALING_WS_IDLE_TIMEOUT":         "30s",
		"SIGNALING_WS_PING_INTERVAL":        "10s",
		"SEND_QUEUE_SIZE":                   "16",
		"MAX_DISPLAY_NAME_LENGTH":           "32",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	wantOrigins := []string{"https://app.example.com", "http://localhost:3000"}
	if len(cfg.AllowedOrigins) != len(wantOrigins) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, wantOrigins)
	}
	for i := range wantOrigins {
		if cfg.AllowedOrigins[i] != wantOrigins[i] {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], wantOrigins[i])
		}
	}
	if cfg.MaxClients != 100 {
		t.Fatalf("MaxClients = %d", cfg.MaxClients)
	}
	if cfg.MaxSignalingMessageBytes != 4096 {
		t.Fatalf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != 10 {
		t.Fatalf("MaxSignalingMessagesPerSecond = %d", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSIdleTimeout != 30*time.Second {
		t.Fatalf("SignalingWSIdleTimeout = %v", cfg.SignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != 10*time.Second {
		t.Fatalf("SignalingWSPingInterval = %v", cfg.SignalingWSPingInterval)
	}
	if cfg.SendQueueSize != 16 {
		t.Fatalf("SendQueueSize = %d", cfg.SendQueueSize)
	}
	if cfg.MaxDisplayNameLength != 32 {
		t.Fatalf("MaxDisplayNameLength = %d", cfg.MaxDisplayNameLength)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		"SIGNAL_RELAY_LISTEN_ADDR": "127.0.0.1:1111",
		"SIGNAL_RELAY_LOG_FORMAT":  "text",
	}
	cfg, err := load(lookupFrom(env), []string{"-listen-addr", "127.0.0.1:2222", "-log-format", "json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{
			name:    "bad duration",
			env:     map[string]string{"SIGNAL_RELAY_SHUTDOWN_TIMEOUT": "soon"},
			wantSub: "SIGNAL_RELAY_SHUTDOWN_TIMEOUT",
		},
		{
			name:    "bad int",
			env:     map[string]string{"MAX_CLIENTS": "many"},
			wantSub: "MAX_CLIENTS",
		},
		{
			name:    "bad mode",
			env:     map[string]string{"SIGNAL_RELAY_MODE": "staging"},
			wantSub: "invalid mode",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"SIGNAL_RELAY_LOG_LEVEL": "loud"},
			wantSub: "invalid log level",
		},
		{
			name: "ping not shorter than idle",
			env: map[string]string{
				"SIGNALING_WS_PING_INTERVAL": "60s",
				"SIGNALING_WS_IDLE_TIMEOUT":  "30s",
			},
			wantSub: "SIGNALING_WS_PING_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(lookupFrom(tt.env), nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q missing %q", err, tt.wantSub)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "yaml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
