package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != testDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, testDatabaseURL)
	}

	// グローバルロガーがJSON出力になっていること
	slog.Default().Info("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_RedactsSensitiveAttributes(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	slog.Default().Info("login attempt", slog.String("password", "hunter2"))

	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("log output leaked password: %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	for _, key := range requiredEnvKeys {
		t.Setenv(key, "")
	}

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "パスワードをマスク",
			raw:  "postgres://famledger:secret@db:5432/famledger?sslmode=disable",
			want: "postgres://famledger:xxxxx@db:5432/famledger?sslmode=disable",
		},
		{
			name: "パスワードなしはそのまま",
			raw:  "postgres://db:5432/famledger",
			want: "postgres://db:5432/famledger",
		},
		{
			name: "DSN形式は全体をマスク",
			raw:  "host=db user=famledger password=secret",
			want: "***",
		},
		{
			name: "空文字",
			raw:  "",
			want: "***",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.raw); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
