package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config captures process configuration for the planner service. Values come
// from an optional TOML file overlaid by PLANNER_* environment variables;
// the environment always wins.
type Config struct {
	HTTPPort    int
	SQLiteDSN   string
	RelayURL    string
	RoomID      string
	APIKey      string
	SyncEnabled bool
	SettleDelay time.Duration
	Debug       bool
}

// fileConfig mirrors Config for the TOML file. Durations are written as
// strings like "2s" and parsed after decoding.
type fileConfig struct {
	HTTPPort    *int    `toml:"http_port"`
	SQLiteDSN   *string `toml:"sqlite_dsn"`
	RelayURL    *string `toml:"relay_url"`
	RoomID      *string `toml:"room_id"`
	APIKey      *string `toml:"api_key"`
	SyncEnabled *bool   `toml:"sync_enabled"`
	SettleDelay *string `toml:"settle_delay"`
	Debug       *bool   `toml:"debug"`
}

func defaults() Config {
	return Config{
		HTTPPort:    8080,
		SQLiteDSN:   "file:planner.db",
		RelayURL:    "ws://localhost:8090/ws",
		SettleDelay: 1500 * time.Millisecond,
	}
}

// Load builds the configuration. A TOML file named by PLANNER_CONFIG_FILE
// (when set) overrides the defaults, then individual environment variables
// override the file. Invalid values are collected and reported together in
// a localized message.
func Load() (Config, error) {
	cfg := defaults()

	invalid := make([]string, 0, 2)

	if path := strings.TrimSpace(os.Getenv("PLANNER_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", path, err)
		}
		var file fileConfig
		if err := toml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("не удалось разобрать файл конфигурации %s: %w", path, err)
		}
		if file.HTTPPort != nil {
			cfg.HTTPPort = *file.HTTPPort
		}
		if file.SQLiteDSN != nil {
			cfg.SQLiteDSN = *file.SQLiteDSN
		}
		if file.RelayURL != nil {
			cfg.RelayURL = *file.RelayURL
		}
		if file.RoomID != nil {
			cfg.RoomID = *file.RoomID
		}
		if file.APIKey != nil {
			cfg.APIKey = *file.APIKey
		}
		if file.SyncEnabled != nil {
			cfg.SyncEnabled = *file.SyncEnabled
		}
		if file.SettleDelay != nil {
			delay, err := time.ParseDuration(*file.SettleDelay)
			if err != nil || delay <= 0 {
				return Config{}, fmt.Errorf("недопустимое значение settle_delay в файле конфигурации %s", path)
			}
			cfg.SettleDelay = delay
		}
		if file.Debug != nil {
			cfg.Debug = *file.Debug
		}
	}

	if portValue := strings.TrimSpace(os.Getenv("PLANNER_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "PLANNER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("PLANNER_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if u := strings.TrimSpace(os.Getenv("PLANNER_RELAY_URL")); u != "" {
		cfg.RelayURL = u
	}

	if room := strings.TrimSpace(os.Getenv("PLANNER_ROOM_ID")); room != "" {
		cfg.RoomID = room
	}

	if key := strings.TrimSpace(os.Getenv("PLANNER_API_KEY")); key != "" {
		cfg.APIKey = key
	}

	if enabled := strings.TrimSpace(os.Getenv("PLANNER_SYNC_ENABLED")); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			invalid = append(invalid, "PLANNER_SYNC_ENABLED")
		} else {
			cfg.SyncEnabled = value
		}
	}

	if delayValue := strings.TrimSpace(os.Getenv("PLANNER_SETTLE_DELAY")); delayValue != "" {
		delay, err := time.ParseDuration(delayValue)
		if err != nil || delay <= 0 {
			invalid = append(invalid, "PLANNER_SETTLE_DELAY")
		} else {
			cfg.SettleDelay = delay
		}
	}

	if debug := strings.TrimSpace(os.Getenv("PLANNER_DEBUG")); debug != "" {
		value, err := strconv.ParseBool(debug)
		if err != nil {
			invalid = append(invalid, "PLANNER_DEBUG")
		} else {
			cfg.Debug = value
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("недопустимые значения переменных окружения: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
