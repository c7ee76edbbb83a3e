package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cliffng14/accountably/internal/generator"
	"github.com/cliffng14/accountably/internal/repository"
	"github.com/cliffng14/accountably/internal/scheduler"
)

type Config struct {
	TelegramToken string
	AdminUserID   int64

	DatabaseDriver string
	DatabaseURL    string

	Timezone     *time.Location
	IssueAt      scheduler.At
	ValidateAt   scheduler.At
	ExpireAt     scheduler.At
	MorningAt    scheduler.At
	EveningAt    scheduler.At
	ChallengeTTL time.Duration
	PromptTTL    time.Duration

	Generator        generator.Config
	IssueConcurrency int

	HTTPAddr string
	CronKey  string

	LogMode     string
	OTelEnabled bool
	OTelStdout  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_DRIVER", repository.DriverPostgres)
	v.SetDefault("DATABASE_URL", "host=localhost port=5432 user=postgres dbname=accountably sslmode=disable")
	v.SetDefault("TIMEZONE", "Asia/Singapore")
	v.SetDefault("ISSUE_AT", "22:45")
	v.SetDefault("VALIDATE_AT", "22:30")
	v.SetDefault("EXPIRE_AT", "22:35")
	v.SetDefault("MORNING_REMINDER_AT", "08:00")
	v.SetDefault("EVENING_REMINDER_AT", "19:00")
	v.SetDefault("CHALLENGE_TTL", "24h")
	v.SetDefault("PROMPT_TTL", "24h")
	v.SetDefault("GENERATOR_PROVIDER", generator.ProviderGroq)
	v.SetDefault("GENERATOR_TIMEOUT", "30s")
	v.SetDefault("ISSUE_CONCURRENCY", 4)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_MODE", "development")
}

// Load reads envFile (if present) into the environment, then an optional
// YAML/TOML config file, then environment variables, which win.
// It reports whether envFile was found so the caller can warn.
func Load(envFile, configFile string) (*Config, bool, error) {
	envLoaded := godotenv.Load(envFile) == nil

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, envLoaded, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg, err := fromViper(v)
	return cfg, envLoaded, err
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		TelegramToken:    v.GetString("TELEGRAM_BOT_TOKEN"),
		AdminUserID:      v.GetInt64("ADMIN_TELEGRAM_USER_ID"),
		DatabaseDriver:   v.GetString("DATABASE_DRIVER"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		ChallengeTTL:     v.GetDuration("CHALLENGE_TTL"),
		PromptTTL:        v.GetDuration("PROMPT_TTL"),
		IssueConcurrency: v.GetInt("ISSUE_CONCURRENCY"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		CronKey:          v.GetString("CRON_KEY"),
		LogMode:          v.GetString("LOG_MODE"),
		OTelEnabled:      v.GetBool("OTEL_ENABLED"),
		OTelStdout:       v.GetBool("OTEL_STDOUT"),
		Generator: generator.Config{
			Provider:        strings.ToLower(v.GetString("GENERATOR_PROVIDER")),
			GroqAPIKey:      v.GetString("GROQ_API_KEY"),
			GroqModel:       v.GetString("GROQ_MODEL"),
			GroqBaseURL:     v.GetString("GROQ_BASE_URL"),
			AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
			AnthropicModel:  v.GetString("ANTHROPIC_MODEL"),
			GeminiAPIKey:    v.GetString("GEMINI_API_KEY"),
			GeminiModel:     v.GetString("GEMINI_MODEL"),
			Timeout:         v.GetDuration("GENERATOR_TIMEOUT"),
		},
	}

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.Timezone = loc

	times := []struct {
		key string
		dst *scheduler.At
	}{
		{"ISSUE_AT", &cfg.IssueAt},
		{"VALIDATE_AT", &cfg.ValidateAt},
		{"EXPIRE_AT", &cfg.ExpireAt},
		{"MORNING_REMINDER_AT", &cfg.MorningAt},
		{"EVENING_REMINDER_AT", &cfg.EveningAt},
	}
	for _, tt := range times {
		at, err := scheduler.ParseAt(v.GetString(tt.key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tt.key, err)
		}
		*tt.dst = at
	}

	return cfg, nil
}

// Validate checks the settings every command needs. Serving additionally
// needs the bot token and the admin id.
func (c *Config) Validate(serving bool) error {
	var errs []error
	switch c.DatabaseDriver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q", repository.DriverPostgres, repository.DriverSQLite))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("CHALLENGE_TTL must be positive"))
	}
	if c.PromptTTL <= 0 {
		errs = append(errs, errors.New("PROMPT_TTL must be positive"))
	}
	if c.IssueConcurrency < 1 {
		errs = append(errs, errors.New("ISSUE_CONCURRENCY must be at least 1"))
	}
	if serving {
		if c.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
		}
		if c.AdminUserID == 0 {
			errs = append(errs, errors.New("ADMIN_TELEGRAM_USER_ID is required"))
		}
	}
	return errors.Join(errs...)
}
