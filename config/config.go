package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/api"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/database"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/engine"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/logging"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/notification"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/orders"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/position"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

// ExchangeConfig holds the exchange connection settings. Credentials
// come from the environment only.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	Token     string `json:"-"`
	AccountID string `json:"account_id"`
}

// RedisConfig holds the governor state store settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DatabaseConfig wraps the journal database settings with an enable
// switch.
type DatabaseConfig struct {
	Enabled bool `json:"enabled"`
	database.Config
}

// NotificationConfig groups delivery providers.
type NotificationConfig struct {
	Enabled  bool                        `json:"enabled"`
	Webhook  notification.WebhookConfig  `json:"webhook"`
	Telegram notification.TelegramConfig `json:"telegram"`
}

// EngineConfig groups the trading-side knobs.
type EngineConfig struct {
	Symbol             string                  `json:"symbol"`
	Sizer              risk.SizerConfig        `json:"sizer"`
	Governor           risk.GovernorConfig     `json:"governor"`
	Trailing           position.TrailingConfig `json:"trailing"`
	Profit             position.ProfitConfig   `json:"profit"`
	Retry              orders.RetryPolicy      `json:"retry"`
	Session            engine.SessionConfig    `json:"session"`
	EquityPollInterval time.Duration           `json:"equity_poll_interval"`
}

// Config is the full process configuration, loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Logging      logging.Config     `json:"logging"`
	Exchange     ExchangeConfig     `json:"exchange"`
	Engine       EngineConfig       `json:"engine"`
	Redis        RedisConfig        `json:"redis"`
	Database     DatabaseConfig     `json:"database"`
	Notification NotificationConfig `json:"notification"`
	Server       api.ServerConfig   `json:"server"`
}

// Load reads config.json if present and applies environment overrides
// on top.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Exchange.Token == "" {
		return nil, fmt.Errorf("EXCHANGE_API_TOKEN is required")
	}
	if cfg.Exchange.AccountID == "" {
		return nil, fmt.Errorf("exchange account id is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Console = getEnvOrDefault("LOG_CONSOLE", "false") == "true"
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)

	cfg.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.StreamURL = getEnvOrDefault("EXCHANGE_STREAM_URL", cfg.Exchange.StreamURL)
	cfg.Exchange.Token = getEnvOrDefault("EXCHANGE_API_TOKEN", cfg.Exchange.Token)
	cfg.Exchange.AccountID = getEnvOrDefault("EXCHANGE_ACCOUNT_ID", cfg.Exchange.AccountID)

	cfg.Engine.Symbol = getEnvOrDefault("ENGINE_SYMBOL", cfg.Engine.Symbol)
	cfg.Engine.Sizer.Bounds.Min = getEnvFloatOrDefault("RISK_MIN", cfg.Engine.Sizer.Bounds.Min)
	cfg.Engine.Sizer.Bounds.Max = getEnvFloatOrDefault("RISK_MAX", cfg.Engine.Sizer.Bounds.Max)
	cfg.Engine.Sizer.ProfitTargetR = getEnvFloatOrDefault("PROFIT_TARGET_R", cfg.Engine.Sizer.ProfitTargetR)
	cfg.Engine.Governor.DailyLossLimit = getEnvFloatOrDefault("GOVERNOR_DAILY_LOSS_LIMIT", cfg.Engine.Governor.DailyLossLimit)
	cfg.Engine.Governor.WeeklyLossLimit = getEnvFloatOrDefault("GOVERNOR_WEEKLY_LOSS_LIMIT", cfg.Engine.Governor.WeeklyLossLimit)
	cfg.Engine.Governor.MaxConsecutiveLosses = getEnvIntOrDefault("GOVERNOR_MAX_CONSECUTIVE_LOSSES", cfg.Engine.Governor.MaxConsecutiveLosses)
	cfg.Engine.Governor.MaxDrawdownPercent = getEnvFloatOrDefault("GOVERNOR_MAX_DRAWDOWN_PERCENT", cfg.Engine.Governor.MaxDrawdownPercent)

	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Database.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.Database.Enabled)) == "true"
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)

	cfg.Notification.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.Notification.Enabled)) == "true"
	cfg.Notification.Webhook.URL = getEnvOrDefault("WEBHOOK_URL", cfg.Notification.Webhook.URL)
	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)

	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", boolString(cfg.Server.ProductionMode)) == "true"
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.exchange.local"
	}
	if cfg.Exchange.StreamURL == "" {
		cfg.Exchange.StreamURL = "wss://stream.exchange.local/v1/events"
	}
	if cfg.Engine.Symbol == "" {
		cfg.Engine.Symbol = "MES"
	}
	if cfg.Engine.Sizer.Bounds.Max == 0 {
		cfg.Engine.Sizer.Bounds = risk.RiskBounds{Min: 50, Max: 250}
	}
	if cfg.Engine.Sizer.ProfitTargetR == 0 {
		cfg.Engine.Sizer.ProfitTargetR = 2
	}
	if cfg.Engine.Retry.MaxRetries == 0 {
		cfg.Engine.Retry = orders.DefaultRetryPolicy()
	}
	if cfg.Engine.Trailing.Mode == "" {
		cfg.Engine.Trailing.Mode = position.TrailRisk
	}
	if cfg.Engine.Trailing.ActivationR == 0 {
		cfg.Engine.Trailing.ActivationR = 1
	}
	if cfg.Engine.Profit.PartialR == 0 {
		cfg.Engine.Profit.PartialR = 1
	}
	if cfg.Engine.Profit.PartialPercent == 0 {
		cfg.Engine.Profit.PartialPercent = 50
	}
	if cfg.Engine.Profit.BreakEvenTriggerR == 0 {
		cfg.Engine.Profit.BreakEvenTriggerR = 1
	}
	if cfg.Engine.EquityPollInterval == 0 {
		cfg.Engine.EquityPollInterval = 30 * time.Second
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
