package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment          string
	EncryptionKeyBase64  string
	DBHost               string
	DBPort               string
	DBUsername           string
	DBPassword           string
	DBName               string
	DBSSLMode            string
	Port                 string
	AppBaseURL           string
	ProviderBaseURL      string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderDaysWithin   int
	EmbeddingURL         string
	GenerationURL        string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILPILOT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	daysWithin, err := strconv.Atoi(getEnvOrDefault("MAILPILOT_SYNC_DAYS_WITHIN", "2"))
	if err != nil || daysWithin < 1 {
		return nil, fmt.Errorf("MAILPILOT_SYNC_DAYS_WITHIN must be a positive integer")
	}

	config := &Config{
		Environment:          env,
		EncryptionKeyBase64:  os.Getenv("MAILPILOT_ENCRYPTION_KEY_BASE64"),
		DBHost:               getEnvOrDefault("MAILPILOT_DB_HOST", "localhost"),
		DBPort:               getEnvOrDefault("MAILPILOT_DB_PORT", "5432"),
		DBUsername:           getEnvOrDefault("MAILPILOT_DB_USER", "mailpilot"),
		DBPassword:           os.Getenv("MAILPILOT_DB_PASSWORD"),
		DBName:               getEnvOrDefault("MAILPILOT_DB_NAME", "mailpilot"),
		DBSSLMode:            getEnvOrDefault("MAILPILOT_DB_SSLMODE", "disable"),
		Port:                 getEnvOrDefault("PORT", "8080"),
		AppBaseURL:           getEnvOrDefault("MAILPILOT_APP_BASE_URL", "http://localhost:8080"),
		ProviderBaseURL:      getEnvOrDefault("MAILPILOT_PROVIDER_BASE_URL", "https://api.aurinko.io/v1"),
		ProviderClientID:     os.Getenv("MAILPILOT_PROVIDER_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("MAILPILOT_PROVIDER_CLIENT_SECRET"),
		ProviderDaysWithin:   daysWithin,
		EmbeddingURL:         getEnvOrDefault("MAILPILOT_EMBEDDING_URL", "http://localhost:8000/embed"),
		GenerationURL:        getEnvOrDefault("MAILPILOT_GENERATION_URL", "http://localhost:8001/chat"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILPILOT_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILPILOT_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("MAILPILOT_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILPILOT_DB_PASSWORD is required")
	}

	if c.ProviderClientID == "" {
		return fmt.Errorf("MAILPILOT_PROVIDER_CLIENT_ID is required")
	}

	if c.ProviderClientSecret == "" {
		return fmt.Errorf("MAILPILOT_PROVIDER_CLIENT_SECRET is required")
	}

	for name, value := range map[string]string{
		"MAILPILOT_PROVIDER_BASE_URL": c.ProviderBaseURL,
		"MAILPILOT_EMBEDDING_URL":     c.EmbeddingURL,
		"MAILPILOT_GENERATION_URL":    c.GenerationURL,
	} {
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("%s must use http:// or https:// scheme", name)
		}
	}

	if !isValidPort(c.DBPort) {
		return fmt.Errorf("MAILPILOT_DB_PORT is not a valid port number")
	}
	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
