package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"telegram-mention-tracker/internal/messages"
	"telegram-mention-tracker/internal/storage"
	"telegram-mention-tracker/internal/tracker"
)

// Commands are the words users send in private chat. The leading slash is
// part of the word, so plain-text commands work too.
type Commands struct {
	Start      string `envconfig:"CMD_START" default:"/start"`
	Stop       string `envconfig:"CMD_STOP" default:"/stop"`
	Mentions   string `envconfig:"CMD_MENTIONS" default:"/mentions"`
	Groups     string `envconfig:"CMD_GROUPS" default:"/groups"`
	Reminder   string `envconfig:"CMD_REMINDER" default:"/reminder"`
	Help       string `envconfig:"CMD_HELP" default:"/help"`
	Timezone   string `envconfig:"CMD_TIMEZONE" default:"/timezone"`
	NoReminder string `envconfig:"CMD_NO_REMINDER" default:"/noreminder"`
	Status     string `envconfig:"CMD_STATUS" default:"/status"`
}

type Config struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"sqlite"` // sqlite|file
	DBPath        string `envconfig:"DB_PATH" default:"/root/data/bot.db"`
	SnapshotPath  string `envconfig:"SNAPSHOT_PATH" default:"/root/data/backup/state.json"`

	DefaultTZ   string   `envconfig:"DEFAULT_TZ" default:"+0300"`
	DefaultLang string   `envconfig:"DEFAULT_LANG" default:"en"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	MentionAll  []string `envconfig:"MENTION_ALL" default:"@all,@everyone"`

	SendRate       int           `envconfig:"SEND_RATE" default:"25"`
	SendRetries    int           `envconfig:"SEND_RETRIES" default:"3"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	RosterRefresh  time.Duration `envconfig:"ROSTER_REFRESH" default:"6h"`
	CompactEvery   time.Duration `envconfig:"COMPACT_EVERY" default:"10m"`

	Commands
}

var secretPath = "/run/secrets/telegram_bot_token"

// Load reads .env (if any), then the environment, then the docker secret,
// which wins over TELEGRAM_BOT_TOKEN.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(secretPath); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			cfg.TelegramToken = token
		}
	}
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	return cfg, cfg.Validate()
}

// StoragePath is the location used by the selected driver.
func (c Config) StoragePath() string {
	if c.StorageDriver == storage.DriverFile {
		return c.SnapshotPath
	}
	return c.DBPath
}

func (c Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("token not found: neither docker secret nor TELEGRAM_BOT_TOKEN is set"))
	}
	switch c.StorageDriver {
	case storage.DriverSQLite, storage.DriverFile:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.StoragePath()) == "" {
		errs = append(errs, fmt.Errorf("empty storage path for driver %q", c.StorageDriver))
	}
	if _, err := tracker.ParseTZ(c.DefaultTZ); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TZ: %w", err))
	}
	if _, err := messages.Load(c.DefaultLang); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_LANG: %w", err))
	}
	if c.SendRate <= 0 {
		errs = append(errs, errors.New("SEND_RATE must be positive"))
	}
	if c.SendRetries < 0 {
		errs = append(errs, errors.New("SEND_RETRIES must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}

	seen := make(map[string]string)
	for name, word := range c.Commands.byName() {
		word = strings.TrimSpace(word)
		if word == "" || strings.ContainsAny(word, " \t\n") {
			errs = append(errs, fmt.Errorf("command %s must be a single word", name))
			continue
		}
		if other, dup := seen[word]; dup {
			errs = append(errs, fmt.Errorf("commands %s and %s share the word %q", other, name, word))
		}
		seen[word] = name
	}
	return errors.Join(errs...)
}

func (c Commands) byName() map[string]string {
	return map[string]string{
		"CMD_START":       c.Start,
		"CMD_STOP":        c.Stop,
		"CMD_MENTIONS":    c.Mentions,
		"CMD_GROUPS":      c.Groups,
		"CMD_REMINDER":    c.Reminder,
		"CMD_HELP":        c.Help,
		"CMD_TIMEZONE":    c.Timezone,
		"CMD_NO_REMINDER": c.NoReminder,
		"CMD_STATUS":      c.Status,
	}
}
