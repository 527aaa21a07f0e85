package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bridge    BridgeConfig                  `yaml:"bridge"`
	Agents    map[string]AgentDefinition    `yaml:"agents"`
	Workflows map[string]WorkflowDefinition `yaml:"workflows"`
	Schedules []ScheduleDefinition          `yaml:"schedules"`
	Scheduler SchedulerConfig               `yaml:"scheduler"`
	Store     StoreConfig                   `yaml:"store"`
	NATS      NATSConfig                    `yaml:"nats"`
	Web       WebConfig                     `yaml:"web"`
	Telegram  TelegramConfig                `yaml:"telegram"`
	Vault     VaultConfig                   `yaml:"vault"`
	Tracing   TracingConfig                 `yaml:"tracing"`
	Log       LogConfig                     `yaml:"log"`
}

// BridgeConfig controls how remote agents are reached.
type BridgeConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	HealthPath      string        `yaml:"health_path"`
	HealthTimeout   time.Duration `yaml:"health_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	DefaultLanguage string        `yaml:"default_language"`
	// AuthToken is sent as a bearer token. A "secret:<name>" value is
	// resolved through the vault at startup.
	AuthToken string `yaml:"auth_token"`
}

type AgentDefinition struct {
	Name          string  `yaml:"name"`
	Description   string  `yaml:"description"`
	Endpoint      string  `yaml:"endpoint"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxIterations int     `yaml:"max_iterations"`
}

type WorkflowDefinition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Steps       []StepDefinition `yaml:"steps"`
}

type StepDefinition struct {
	Agent string `yaml:"agent"`
}

// ScheduleDefinition runs a workflow either on a cron expression or at a
// fixed interval. Exactly one of Cron and Every is set.
type ScheduleDefinition struct {
	Name     string        `yaml:"name"`
	Workflow string        `yaml:"workflow"`
	Input    string        `yaml:"input"`
	Cron     string        `yaml:"cron"`
	Every    time.Duration `yaml:"every"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const DefaultPath = "config/crewbridge.yaml"

func defaults() Config {
	return Config{
		Bridge: BridgeConfig{
			BaseURL:         "http://localhost:3000",
			Timeout:         60 * time.Second,
			HealthPath:      "/health",
			HealthTimeout:   5 * time.Second,
			HealthInterval:  time.Minute,
			DefaultLanguage: "en",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "data/crewbridge.db",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Tracing: TracingConfig{
			ServiceName: "crewbridge",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file named by CREWBRIDGE_CONFIG (or the
// default path), applies environment overrides and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("CREWBRIDGE_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CREWBRIDGE_BASE_URL"); v != "" {
		cfg.Bridge.BaseURL = v
	}
	if v := os.Getenv("CREWBRIDGE_AUTH_TOKEN"); v != "" {
		cfg.Bridge.AuthToken = v
	}
	if v := os.Getenv("CREWBRIDGE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CREWBRIDGE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CREWBRIDGE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CREWBRIDGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREWBRIDGE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CREWBRIDGE_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("CREWBRIDGE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CREWBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = v
	}
}
