package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		AllowOrigins []string `yaml:"allowOrigins"`
	} `yaml:"server"`

	Database struct {
		URI string `yaml:"uri"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Oracle struct {
		Provider string `yaml:"provider"` // "gemini" or "openai"
	} `yaml:"oracle"`

	Gemini struct {
		ApiKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`

	Openai struct {
		GptApiKey string `yaml:"gptApiKey"`
		Model     string `yaml:"model"`
	} `yaml:"openai"`

	JWT struct {
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`

	Limits struct {
		Window         time.Duration `yaml:"window"`
		SoftCap        int           `yaml:"softCap"`
		HardCap        int           `yaml:"hardCap"`
		RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
		MaxRetries     int           `yaml:"maxRetries"`
		QueueSpacing   time.Duration `yaml:"queueSpacing"`
	} `yaml:"limits"`

	Polling struct {
		StatusInterval time.Duration `yaml:"statusInterval"`
		TimerTick      time.Duration `yaml:"timerTick"`
		SweepInterval  time.Duration `yaml:"sweepInterval"`
	} `yaml:"polling"`

	Cache struct {
		SchemaVersion string        `yaml:"schemaVersion"`
		Conversations time.Duration `yaml:"conversations"`
		Profiles      time.Duration `yaml:"profiles"`
		Topics        time.Duration `yaml:"topics"`
		Invitations   time.Duration `yaml:"invitations"`
	} `yaml:"cache"`

	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
}

// MinStatusInterval is the lower bound on conversation status polling.
const MinStatusInterval = 7500 * time.Millisecond

// LoadConfig reads the configuration file, applies environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	override(&c.Database.URI, "CLARIFY_MONGO_URI")
	override(&c.Redis.Addr, "CLARIFY_REDIS_ADDR")
	override(&c.Gemini.ApiKey, "GEMINI_API_KEY")
	override(&c.Openai.GptApiKey, "OPENAI_API_KEY")
	override(&c.JWT.Secret, "CLARIFY_JWT_SECRET")
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"http://localhost:5173"}
	}

	switch strings.ToLower(c.Oracle.Provider) {
	case "":
		c.Oracle.Provider = "gemini"
	case "gemini", "openai":
		c.Oracle.Provider = strings.ToLower(c.Oracle.Provider)
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Openai.Model == "" {
		c.Openai.Model = "gpt-4o-mini"
	}

	l := &c.Limits
	if l.Window <= 0 {
		l.Window = time.Minute
	}
	if l.SoftCap <= 0 {
		l.SoftCap = 10
	}
	if l.HardCap <= 0 {
		l.HardCap = 20
	}
	if l.HardCap < l.SoftCap {
		return fmt.Errorf("limits.hardCap (%d) must be >= limits.softCap (%d)", l.HardCap, l.SoftCap)
	}
	if l.RetryBaseDelay <= 0 {
		l.RetryBaseDelay = 3 * time.Second
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 3
	}
	if l.QueueSpacing <= 0 {
		l.QueueSpacing = 300 * time.Millisecond
	}

	p := &c.Polling
	if p.StatusInterval < MinStatusInterval {
		p.StatusInterval = MinStatusInterval
	}
	if p.TimerTick <= 0 {
		p.TimerTick = time.Second
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = 30 * time.Second
	}

	cc := &c.Cache
	if cc.SchemaVersion == "" {
		cc.SchemaVersion = "v1"
	}
	if cc.Conversations <= 0 {
		cc.Conversations = time.Minute
	}
	if cc.Profiles <= 0 {
		cc.Profiles = 10 * time.Minute
	}
	if cc.Topics <= 0 {
		cc.Topics = 10 * time.Minute
	}
	if cc.Invitations <= 0 {
		cc.Invitations = 5 * time.Minute
	}

	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
	return nil
}
