package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	// Schedule configuration (cron expression with seconds field)
	ScanSchedule string `env:"SCAN_SCHEDULE" envDefault:"0 0 9 * * MON"`
	TimeZone     string `env:"TIMEZONE" envDefault:"UTC"`

	// Tracked sites and competitor lists
	TrackingFile string `env:"TRACKING_FILE" envDefault:"tracking.yaml"`
	DefaultPlan  string `env:"DEFAULT_PLAN" envDefault:"starter"`

	// Storage configuration
	DatabaseURL      string `env:"DATABASE_URL"`
	StorageAccount   string `env:"AZURE_STORAGE_ACCOUNT"`
	StorageContainer string `env:"AZURE_STORAGE_CONTAINER" envDefault:"scans"`
	LocalStorageDir  string `env:"LOCAL_STORAGE_DIR" envDefault:"data"`

	// Notification configuration
	TeamsWebhookURL   string `env:"TEAMS_WEBHOOK_URL"`
	NotificationEmail string `env:"NOTIFICATION_EMAIL"`
	SMTPHost          string `env:"SMTP_HOST"`
	SMTPPort          int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername      string `env:"SMTP_USERNAME"`
	SMTPPassword      string `env:"SMTP_PASSWORD"`

	// Provider credentials. A missing key disables that platform.
	PerplexityAPIKey string `env:"PERPLEXITY_API_KEY"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`

	PerplexityModel   string `env:"PERPLEXITY_MODEL" envDefault:"sonar"`
	GeminiModel       string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	OpenAIModel       string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	PerplexityBaseURL string `env:"PERPLEXITY_BASE_URL" envDefault:"https://api.perplexity.ai"`
	GeminiBaseURL     string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	// Provider call behaviour
	CallTimeout        time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`
	RetryBackoff       time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`
	ProviderRPM        int           `env:"PROVIDER_RPM" envDefault:"60"`
	ProviderBurst      int           `env:"PROVIDER_BURST" envDefault:"5"`
	MaxConcurrentCalls int           `env:"MAX_CONCURRENT_CALLS" envDefault:"0"`

	// Scoring tunables
	MarketCrowdingK     float64 `env:"MARKET_CROWDING_K" envDefault:"0.15"`
	MaxExpectedMentions int     `env:"MAX_EXPECTED_MENTIONS" envDefault:"10"`
}

// Plan is the scan allowance of a subscription tier
type Plan struct {
	Name       string
	QueryCount int
	Platforms  []models.PlatformID
}

var plans = map[string]Plan{
	"free":    {Name: "free", QueryCount: 3, Platforms: []models.PlatformID{models.PlatformPerplexity}},
	"starter": {Name: "starter", QueryCount: 5, Platforms: models.AllPlatforms},
	"pro":     {Name: "pro", QueryCount: 10, Platforms: models.AllPlatforms},
	"agency":  {Name: "agency", QueryCount: 20, Platforms: models.AllPlatforms},
}

// PlanFor resolves a tier name into its scan allowance
func PlanFor(name string) (Plan, bool) {
	p, ok := plans[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive")
	}

	if c.MarketCrowdingK <= 0 {
		return fmt.Errorf("MARKET_CROWDING_K must be positive")
	}

	if c.MaxExpectedMentions < 1 {
		return fmt.Errorf("MAX_EXPECTED_MENTIONS must be at least 1")
	}

	if _, ok := PlanFor(c.DefaultPlan); !ok {
		return fmt.Errorf("DEFAULT_PLAN %q is not a known plan", c.DefaultPlan)
	}

	return nil
}
