package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"offline-contest/internal/logging"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		BaseURL string `yaml:"base_url" toml:"base_url"`
		Timeout string `yaml:"timeout" toml:"timeout"`
	} `yaml:"api" toml:"api"`
	Identity struct {
		TokenPath string `yaml:"token_path" toml:"token_path"`
	} `yaml:"identity" toml:"identity"`
	Storage struct {
		Driver     string `yaml:"driver" toml:"driver"` // sqlite, redis, memory
		SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
		Redis      struct {
			Addr      string `yaml:"addr" toml:"addr"`
			Password  string `yaml:"password" toml:"password"`
			DB        int    `yaml:"db" toml:"db"`
			Namespace string `yaml:"namespace" toml:"namespace"`
			TTL       string `yaml:"ttl" toml:"ttl"`
		} `yaml:"redis" toml:"redis"`
	} `yaml:"storage" toml:"storage"`
	Connectivity struct {
		ProbeURL string `yaml:"probe_url" toml:"probe_url"`
		Interval string `yaml:"interval" toml:"interval"`
		Timeout  string `yaml:"timeout" toml:"timeout"`
	} `yaml:"connectivity" toml:"connectivity"`
	Preparation struct {
		StageDelay string `yaml:"stage_delay" toml:"stage_delay"`
	} `yaml:"preparation" toml:"preparation"`
	Sandbox struct {
		TimeLimit string `yaml:"time_limit" toml:"time_limit"`
	} `yaml:"sandbox" toml:"sandbox"`
	Contest struct {
		DefaultDuration string `yaml:"default_duration" toml:"default_duration"`
		MaxProblems     int    `yaml:"max_problems" toml:"max_problems"`
		PenaltyPoints   int    `yaml:"penalty_points" toml:"penalty_points"`
		WarningDuration string `yaml:"warning_duration" toml:"warning_duration"`
		RefreshWindow   string `yaml:"refresh_window" toml:"refresh_window"`
	} `yaml:"contest" toml:"contest"`
	Submission struct {
		MaxAttempts int    `yaml:"max_attempts" toml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay" toml:"base_delay"`
	} `yaml:"submission" toml:"submission"`
	Server struct {
		Port string `yaml:"port" toml:"port"`
	} `yaml:"server" toml:"server"`
	Postgres struct {
		URL string `yaml:"url" toml:"url"`
	} `yaml:"postgres" toml:"postgres"`
	Log logging.Config `yaml:"log" toml:"log"`
}

// Load reads YAML or TOML config from path, chosen by extension. A missing
// file yields the defaults so a fresh device can run without one.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration used when a key is absent.
func Defaults() Config {
	var cfg Config
	cfg.API.BaseURL = "http://localhost:8080"
	cfg.API.Timeout = "10s"
	cfg.Identity.TokenPath = filepath.Join(dataDir(), "token")
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(dataDir(), "contest.db")
	cfg.Connectivity.ProbeURL = "https://clients3.google.com/generate_204"
	cfg.Connectivity.Interval = "2s"
	cfg.Connectivity.Timeout = "3s"
	cfg.Preparation.StageDelay = "300ms"
	cfg.Sandbox.TimeLimit = "5s"
	cfg.Contest.DefaultDuration = "60m"
	cfg.Contest.MaxProblems = 3
	cfg.Contest.PenaltyPoints = 10
	cfg.Contest.WarningDuration = "10s"
	cfg.Contest.RefreshWindow = "5s"
	cfg.Submission.MaxAttempts = 3
	cfg.Submission.BaseDelay = "1s"
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

func dataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "offline-contest")
	}
	return ".offline-contest"
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// TTLDuration is kept for the Redis TTL setting.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	return Duration(raw, fallback)
}
