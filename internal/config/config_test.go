package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withSecret(t *testing.T, content string) {
	t.Helper()
	old := secretPath
	t.Cleanup(func() { secretPath = old })
	if content == "" {
		secretPath = filepath.Join(t.TempDir(), "missing")
		return
	}
	secretPath = filepath.Join(t.TempDir(), "telegram_bot_token")
	if err := os.WriteFile(secretPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	withSecret(t, "")
	t.Setenv("TELEGRAM_BOT_TOKEN", " env-token ")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TelegramToken != "env-token" {
		t.Fatalf("token = %q", cfg.TelegramToken)
	}
	if cfg.StorageDriver != "sqlite" || cfg.StoragePath() != cfg.DBPath {
		t.Fatalf("storage = %s %s", cfg.StorageDriver, cfg.StoragePath())
	}
	if cfg.DefaultTZ != "+0300" || cfg.Commands.Start != "/start" || cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.MentionAll) != 2 || cfg.MentionAll[1] != "@everyone" {
		t.Fatalf("MentionAll = %v", cfg.MentionAll)
	}
}

func TestSecretWinsOverEnv(t *testing.T) {
	withSecret(t, "secret-token\n")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TelegramToken != "secret-token" {
		t.Fatalf("token = %q", cfg.TelegramToken)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	withSecret(t, "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("DEFAULT_TZ", "Mars/Olympus")
	t.Setenv("DEFAULT_LANG", "xx")
	t.Setenv("CMD_STOP", "/start")
	t.Setenv("CMD_HELP", "two words")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"token not found", "STORAGE_DRIVER", "DEFAULT_TZ", "DEFAULT_LANG", "share the word", "CMD_HELP"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestRequestTimeoutMustBePositive(t *testing.T) {
	withSecret(t, "x")
	for _, v := range []string{"0s", "-5s"} {
		t.Setenv("REQUEST_TIMEOUT", v)
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "REQUEST_TIMEOUT") {
			t.Errorf("REQUEST_TIMEOUT=%s: err = %v", v, err)
		}
	}
}

func TestFileDriverPath(t *testing.T) {
	withSecret(t, "x")
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("SNAPSHOT_PATH", "/tmp/state.json")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoragePath() != "/tmp/state.json" {
		t.Fatalf("path = %s", cfg.StoragePath())
	}
}
