// Package config loads watchdog settings from the environment, once at
// startup. The configuration is immutable for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration constants.
const (
	DefaultContainerName    = "wvh"
	DefaultCommandPrefix    = "/"
	DefaultPollInterval     = 30 * time.Second
	DefaultOperationTimeout = 30 * time.Second
	DefaultInspectTimeout   = 5 * time.Second
	DefaultMonitorInterval  = 2 * time.Second
	DefaultStatusAddr       = "127.0.0.1:8787"
	DefaultRestartAfter     = 24 * time.Hour
)

// Config is the full watchdog configuration.
type Config struct {
	// Discord
	DiscordToken     string
	ConsoleChannel   string
	AnnounceChannels []string
	MonitorInterval  time.Duration

	// Workload
	ContainerName    string
	DockerSocket     string
	PollInterval     time.Duration
	OperationTimeout time.Duration
	InspectTimeout   time.Duration

	// Commands
	CommandPrefix string

	// Game log / presence
	GameLogPath string

	// Sleep
	SleepTriggerDir  string
	SleepTriggerFile string

	// Status endpoint
	StatusAddr string

	// Self-restart
	RestartAfter time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults and
// validating required settings.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DiscordToken:     os.Getenv("DISCORD_TOKEN"),
		ConsoleChannel:   os.Getenv("DISCORD_CONSOLE_CHANNEL"),
		MonitorInterval:  durationEnv("DISCORD_MONITOR_INTERVAL", DefaultMonitorInterval),
		ContainerName:    stringEnv("DOCKER_CONTAINER", DefaultContainerName),
		DockerSocket:     os.Getenv("DOCKER_SOCKET"),
		PollInterval:     durationEnv("POLL_INTERVAL", DefaultPollInterval),
		OperationTimeout: durationEnv("OPERATION_TIMEOUT", DefaultOperationTimeout),
		InspectTimeout:   durationEnv("INSPECT_TIMEOUT", DefaultInspectTimeout),
		CommandPrefix:    stringEnv("COMMAND_PREFIX", DefaultCommandPrefix),
		GameLogPath:      os.Getenv("GAME_LOG"),
		SleepTriggerDir:  os.Getenv("SLEEP_TRIGGER_DIR"),
		SleepTriggerFile: os.Getenv("SLEEP_TRIGGER_FILE"),
		StatusAddr:       stringEnv("STATUS_ADDR", DefaultStatusAddr),
		RestartAfter:     durationEnv("RESTART_AFTER", DefaultRestartAfter),
	}

	for _, channel := range strings.Split(os.Getenv("DISCORD_CHANNELS"), ",") {
		channel = strings.TrimSpace(channel)
		if channel != "" {
			cfg.AnnounceChannels = append(cfg.AnnounceChannels, channel)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.ConsoleChannel == "" {
		missing = append(missing, "DISCORD_CONSOLE_CHANNEL")
	}
	if len(c.AnnounceChannels) == 0 {
		missing = append(missing, "DISCORD_CHANNELS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SleepEnabled reports whether the sleep trigger is configured.
func (c *Config) SleepEnabled() bool {
	return c.SleepTriggerFile != ""
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
