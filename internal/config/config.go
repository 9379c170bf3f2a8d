package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port          int    `yaml:"port"`
		PublicBaseURL string `yaml:"publicBaseURL"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql (default) or postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	NATS struct {
		URL     string `yaml:"url"`
		Stream  string `yaml:"stream"`
		Subject string `yaml:"subject"`
		Durable string `yaml:"durable"`
	} `yaml:"nats"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	GitHub struct {
		Token string `yaml:"token"`
	} `yaml:"github"`

	OpenAI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	// Auth maps tenant id -> API key for the read/management API.
	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	// Webhook legacy mode: the unscoped /webhook endpoint only works when both
	// fields are set; deliveries land on the designated tenant.
	Webhook struct {
		LegacySecret string `yaml:"legacySecret"`
		LegacyTenant string `yaml:"legacyTenant"`
	} `yaml:"webhook"`

	Worker struct {
		Concurrency      int `yaml:"concurrency"`
		ReviewTimeoutSec int `yaml:"reviewTimeoutSec"`
		ReclaimEverySec  int `yaml:"reclaimEverySec"`
	} `yaml:"worker"`
}

// Load reads the yaml config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "REVIEWS"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "reviews.jobs"
	}
	if c.NATS.Durable == "" {
		c.NATS.Durable = "review-worker"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.ReviewTimeoutSec <= 0 {
		c.Worker.ReviewTimeoutSec = 600
	}
	if c.Worker.ReclaimEverySec <= 0 {
		c.Worker.ReclaimEverySec = 60
	}
}

// ReviewTimeout is how long a review may sit in running before reclaim.
func (c *Config) ReviewTimeout() time.Duration {
	return time.Duration(c.Worker.ReviewTimeoutSec) * time.Second
}

// ReclaimEvery is the stale-review sweep interval.
func (c *Config) ReclaimEvery() time.Duration {
	return time.Duration(c.Worker.ReclaimEverySec) * time.Second
}

// Helper to build the MySQL DSN
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper to build the Postgres DSN
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}

// LegacyWebhookEnabled reports whether the unscoped endpoint is configured.
func (c *Config) LegacyWebhookEnabled() bool {
	return c.Webhook.LegacySecret != "" && c.Webhook.LegacyTenant != ""
}
