package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const DefaultPath = "config/config.json"

type Config struct {
	UploadDir          string      `json:"upload_dir"`
	JWTSecret          string      `json:"jwt_secret"`
	TokenTTL           int         `json:"token_ttl"` // seconds
	Redis              RedisConfig `json:"redis"`
	Port               string      `json:"port"`
	PublicURL          string      `json:"public_url"`
	AllowedOrigin      string      `json:"allowed_origin"`
	LogLevel           string      `json:"log_level"`
	AdminEmails        []string    `json:"admin_emails"`
	MaxUploadSize      int64       `json:"max_upload_size"`
	TopRefreshInterval int         `json:"top_refresh_interval"`
	RateLimit          struct {
		Requests int `json:"requests"`
		Duration int `json:"duration"`
	} `json:"rate_limit"`
	Mail MailConfig `json:"mail"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type MailConfig struct {
	SendGridAPIKey string `json:"sendgrid_api_key"`
	FromName       string `json:"from_name"`
	FromAddress    string `json:"from_address"`
	ResetURL       string `json:"reset_url"` // token is appended as ?token=
}

// Default returns a config usable for local development, minus the JWT secret.
func Default() *Config {
	cfg := &Config{
		UploadDir:          "uploads",
		TokenTTL:           24 * 60 * 60,
		Port:               "8080",
		PublicURL:          "http://localhost:8080",
		AllowedOrigin:      "*",
		LogLevel:           "info",
		MaxUploadSize:      10 << 20,
		TopRefreshInterval: 60,
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Mail: MailConfig{
			FromName:    "Crystal",
			FromAddress: "no-reply@localhost",
			ResetURL:    "http://localhost:3000/reset-password",
		},
	}
	cfg.RateLimit.Requests = 100
	cfg.RateLimit.Duration = 1
	return cfg
}

// Load reads the JSON file at path over the defaults, then applies .env and
// CRYSTAL_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	_ = godotenv.Load()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() error {
	c.UploadDir = getEnvWithDefault("CRYSTAL_UPLOAD_DIR", c.UploadDir)
	c.JWTSecret = getEnvWithDefault("CRYSTAL_JWT_SECRET", c.JWTSecret)
	c.Port = getEnvWithDefault("CRYSTAL_PORT", c.Port)
	c.PublicURL = getEnvWithDefault("CRYSTAL_PUBLIC_URL", c.PublicURL)
	c.AllowedOrigin = getEnvWithDefault("CRYSTAL_ALLOWED_ORIGIN", c.AllowedOrigin)
	c.LogLevel = getEnvWithDefault("CRYSTAL_LOG_LEVEL", c.LogLevel)
	c.Redis.Addr = getEnvWithDefault("CRYSTAL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvWithDefault("CRYSTAL_REDIS_PASSWORD", c.Redis.Password)
	c.Mail.SendGridAPIKey = getEnvWithDefault("SENDGRID_API_KEY", c.Mail.SendGridAPIKey)
	c.Mail.FromAddress = getEnvWithDefault("CRYSTAL_MAIL_FROM", c.Mail.FromAddress)
	c.Mail.ResetURL = getEnvWithDefault("CRYSTAL_RESET_URL", c.Mail.ResetURL)

	if v, ok := os.LookupEnv("CRYSTAL_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRYSTAL_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v, ok := os.LookupEnv("CRYSTAL_ADMIN_EMAILS"); ok {
		c.AdminEmails = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.AdminEmails = append(c.AdminEmails, e)
			}
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Duration <= 0 {
		return errors.New("rate_limit requests and duration must be positive")
	}
	if c.TopRefreshInterval <= 0 {
		return errors.New("top_refresh_interval must be positive")
	}
	return nil
}

// IsAdminEmail reports whether email is configured as an administrator.
func (c *Config) IsAdminEmail(email string) bool {
	for _, e := range c.AdminEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

func getEnvWithDefault(name string, def string) string {
	res, found := os.LookupEnv(name)
	if !found {
		return def
	}
	return res
}
