package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Procore    ProcoreConfig    `yaml:"procore"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Contractor ContractorConfig `yaml:"contractor"`
	Mail       MailConfig       `yaml:"mail"`
	Auth       AuthConfig       `yaml:"auth"`
	Users      []User           `yaml:"users"`
	Notify     NotifyConfig     `yaml:"notify"`
	AI         AIConfig         `yaml:"ai"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ProcoreConfig struct {
	BaseURL           string        `yaml:"base_url"`
	AuthURL           string        `yaml:"auth_url"`
	TokenURL          string        `yaml:"token_url"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	RedirectURL       string        `yaml:"redirect_url"`
	CompanyID         string        `yaml:"company_id"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	ContractCacheTTL  time.Duration `yaml:"contract_cache_ttl"`
	DetailConcurrency int           `yaml:"detail_concurrency"`
}

// OAuth2 returns the authorization server configuration used for both the
// connect flow and refresh-token exchanges.
func (p ProcoreConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type SchedulerConfig struct {
	// DailyAt is a five-field cron expression for the daily trigger.
	DailyAt      string        `yaml:"daily_at"`
	Timezone     string        `yaml:"timezone"`
	CatchUpDelay time.Duration `yaml:"catch_up_delay"`
	// SweepOverdue makes both triggers pick up pending notes dated before
	// today. Defaults to true.
	SweepOverdue *bool `yaml:"sweep_overdue"`
}

// Sweep reports whether overdue notes are swept.
func (s SchedulerConfig) Sweep() bool {
	return s.SweepOverdue == nil || *s.SweepOverdue
}

// Location loads the configured timezone, falling back to the local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

type ContractorConfig struct {
	// Names of the contractor's own organisation; never offered as a client.
	Names []string `yaml:"names"`
}

type MailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Sender          string `yaml:"sender"`
}

// Enabled reports whether plan emails can be sent.
func (m MailConfig) Enabled() bool {
	return m.CredentialsFile != "" && m.Sender != ""
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type NotifyConfig struct {
	TelegramToken    string `yaml:"telegram_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

type AIConfig struct {
	Provider string `yaml:"provider"` // gemini, anthropic or empty
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
	Push bool   `yaml:"push"`
	// SSHKey is the private key used for pushes; empty means ~/.ssh/id_rsa.
	SSHKey string `yaml:"ssh_key"`
}

// Load reads the YAML file at path, applies defaults and then environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Path == "" {
		c.Database.Path = "siteplan.db"
	}
	if c.Procore.BaseURL == "" {
		c.Procore.BaseURL = "https://api.procore.com"
	}
	if c.Procore.AuthURL == "" {
		c.Procore.AuthURL = "https://login.procore.com/oauth/authorize"
	}
	if c.Procore.TokenURL == "" {
		c.Procore.TokenURL = "https://login.procore.com/oauth/token"
	}
	if c.Procore.RequestsPerSecond == 0 {
		c.Procore.RequestsPerSecond = 5
	}
	if c.Procore.ContractCacheTTL == 0 {
		c.Procore.ContractCacheTTL = 5 * time.Minute
	}
	if c.Procore.DetailConcurrency == 0 {
		c.Procore.DetailConcurrency = 4
	}
	if c.Scheduler.DailyAt == "" {
		c.Scheduler.DailyAt = "0 6 * * *"
	}
	if c.Scheduler.CatchUpDelay == 0 {
		c.Scheduler.CatchUpDelay = 5 * time.Second
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.AI.Provider == "gemini" && c.AI.Model == "" {
		c.AI.Model = "gemini-1.5-flash"
	}
}

func (c *Config) applyEnv() {
	setString(&c.Procore.ClientID, "PROCORE_CLIENT_ID")
	setString(&c.Procore.ClientSecret, "PROCORE_CLIENT_SECRET")
	setString(&c.Procore.CompanyID, "PROCORE_COMPANY_ID")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Notify.TelegramToken, "TELEGRAM_TOKEN")
	setString(&c.Notify.DiscordToken, "DISCORD_TOKEN")
	setString(&c.Database.Path, "SITEPLAN_DB")

	switch c.AI.Provider {
	case "gemini":
		setString(&c.AI.APIKey, "GEMINI_API_KEY")
	case "anthropic":
		setString(&c.AI.APIKey, "ANTHROPIC_API_KEY")
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// FindUser finds a user by email
func (c *Config) FindUser(email string) *User {
	for i := range c.Users {
		if strings.EqualFold(c.Users[i].Email, email) {
			return &c.Users[i]
		}
	}
	return nil
}
