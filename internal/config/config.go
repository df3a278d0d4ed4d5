package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	Port        int    `env:"PORT" envDefault:"8000"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Model provider (OpenAI-compatible endpoint)
	GroqAPIKey  string `env:"GROQ_API_KEY,required"`
	GroqBaseURL string `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	GroqModel   string `env:"GROQ_MODEL" envDefault:"llama-3.1-8b-instant"`

	// Auth
	AuthSecret      string        `env:"AUTH_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	ResetTokenTTL   time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"true"`

	// HTTP
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Bot instruction documents
	DocsDir string `env:"BOT_DOCS_DIR" envDefault:"./docs"`

	// Support / transactional email
	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"25"`
	EmailFrom     string `env:"EMAIL_FROM"`
	EmailFromName string `env:"EMAIL_FROM_NAME" envDefault:"Coach Desk"`
	SupportEmail  string `env:"SUPPORT_EMAIL"`
	ResetURLBase  string `env:"RESET_URL_BASE" envDefault:"http://localhost:3000/reset-password"`

	// Usage pricing (USD per 1M tokens)
	PromptCostPerM     float64 `env:"PROMPT_COST_PER_M" envDefault:"0.05"`
	CompletionCostPerM float64 `env:"COMPLETION_COST_PER_M" envDefault:"0.08"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
