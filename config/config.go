package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	UpdateModePolling = "polling"
	UpdateModeWebhook = "webhook"
)

type AppConfig struct {
	BotToken            string
	AdminTelegramID     int64
	PaystackSecretKey   string
	PaystackBaseURL     string
	WebsiteLink         string
	DatabaseURL         string
	HTTPAddr            string
	UpdateMode          string
	TelegramWebhookPath string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	DraftTTL            time.Duration
	GatewayTimeout      time.Duration
	KafkaBrokers        string
	Halls               []string
	DefaultEmail        string
	LogLevel            string
	LogFile             string
}

var defaultHalls = []string{
	"Paul", "Joseph", "Peter", "John", "Daniel",
	"Mary", "Lydia", "Deborah", "Dorcas", "Esther",
}

// Load читает .env, переменные окружения и (опционально) файл CONFIG_FILE.
// Приоритет: переменные окружения > файл > значения по умолчанию.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &AppConfig{
		BotToken:            v.GetString("BOT_TOKEN"),
		AdminTelegramID:     v.GetInt64("ADMIN_TELEGRAM_ID"),
		PaystackSecretKey:   v.GetString("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:     strings.TrimRight(v.GetString("PAYSTACK_BASE_URL"), "/"),
		WebsiteLink:         strings.TrimRight(v.GetString("WEBSITE_LINK"), "/"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		UpdateMode:          strings.ToLower(v.GetString("UPDATE_MODE")),
		TelegramWebhookPath: v.GetString("TELEGRAM_WEBHOOK_PATH"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		DraftTTL:            v.GetDuration("DRAFT_TTL"),
		GatewayTimeout:      v.GetDuration("GATEWAY_TIMEOUT"),
		KafkaBrokers:        v.GetString("KAFKA_BROKERS"),
		Halls:               parseList(v.GetString("HALLS")),
		DefaultEmail:        v.GetString("DEFAULT_EMAIL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFile:             v.GetString("LOG_FILE"),
	}
	if len(cfg.Halls) == 0 {
		cfg.Halls = append([]string(nil), defaultHalls...)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("UPDATE_MODE", UpdateModePolling)
	v.SetDefault("TELEGRAM_WEBHOOK_PATH", "/telegram/webhook")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DRAFT_TTL", "24h")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("HALLS", "")
	v.SetDefault("DEFAULT_EMAIL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "bot.log")
}

func (c *AppConfig) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.PaystackSecretKey == "" {
		missing = append(missing, "PAYSTACK_SECRET_KEY")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.WebsiteLink == "" {
		missing = append(missing, "WEBSITE_LINK")
	}
	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables are missing: %s", strings.Join(missing, ", "))
	}
	if c.UpdateMode != UpdateModePolling && c.UpdateMode != UpdateModeWebhook {
		return fmt.Errorf("UPDATE_MODE must be %q or %q, got %q", UpdateModePolling, UpdateModeWebhook, c.UpdateMode)
	}
	if c.DraftTTL <= 0 {
		return errors.New("DRAFT_TTL must be positive")
	}
	return nil
}

// parseList разбирает список через запятую, пропуская пустые элементы.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
