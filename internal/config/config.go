package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DSN          string `yaml:"dsn"`
	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	FixturesFile string `yaml:"fixtures_file"`

	KafkaBrokers    []string `yaml:"kafka_brokers"`
	KafkaAuditTopic string   `yaml:"kafka_audit_topic"`

	Audit    AuditConfig    `yaml:"audit"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	Shipping ShippingConfig `yaml:"shipping"`
}

type AuditConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Workers       int           `yaml:"workers"`
	ChannelSize   int           `yaml:"channel_size"`
}

type CarrierConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	Name        string        `yaml:"name"`
	ServiceCode string        `yaml:"service_code"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryBase   time.Duration `yaml:"retry_base"`
}

type ShippingConfig struct {
	DefaultWeightGrams int           `yaml:"default_weight_grams"`
	LabelDir           string        `yaml:"label_dir"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	RetryBatch         int           `yaml:"retry_batch"`
	RetryMaxAttempts   int           `yaml:"retry_max_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// Load reads the environment and, when CONSULT_CONFIG_FILE is set, overlays the YAML file on top of it.
func Load() (*Config, error) {
	cfg := fromEnv()
	path := getEnv("CONSULT_CONFIG_FILE", "")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "")
	var brokers []string
	if brokersStr != "" {
		brokers = strings.Split(brokersStr, ",")
	}
	return &Config{
		DSN:             getEnv("APP_DSN", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		FixturesFile:    getEnv("FIXTURES_FILE", "consultation_fixtures.json"),
		KafkaBrokers:    brokers,
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "consultation-audit"),
		Audit: AuditConfig{
			BatchSize:     getInt("AUDIT_BATCH_SIZE", 20),
			FlushInterval: getDuration("AUDIT_FLUSH_INTERVAL", 2*time.Second),
			Workers:       getInt("AUDIT_WORKERS", 1),
			ChannelSize:   getInt("AUDIT_CHANNEL_SIZE", 256),
		},
		Carrier: CarrierConfig{
			BaseURL:     getEnv("CARRIER_BASE_URL", "https://api.parcel.royalmail.com/api/v1"),
			Token:       getEnv("CARRIER_TOKEN", ""),
			Name:        getEnv("CARRIER_NAME", "royal_mail"),
			ServiceCode: getEnv("CARRIER_SERVICE_CODE", "TPN24"),
			Timeout:     getDuration("CARRIER_TIMEOUT", 15*time.Second),
			MaxRetries:  getInt("CARRIER_MAX_RETRIES", 2),
			RetryBase:   getDuration("CARRIER_RETRY_BASE", 500*time.Millisecond),
		},
		Shipping: ShippingConfig{
			DefaultWeightGrams: getInt("DEFAULT_WEIGHT_GRAMS", 100),
			LabelDir:           getEnv("LABEL_DIR", "labels"),
			RetryInterval:      getDuration("SHIPPING_RETRY_INTERVAL", 30*time.Second),
			RetryBatch:         getInt("SHIPPING_RETRY_BATCH", 20),
			RetryMaxAttempts:   getInt("SHIPPING_RETRY_MAX_ATTEMPTS", 5),
			RetryDelay:         getDuration("SHIPPING_RETRY_DELAY", 5*time.Minute),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return value
}

// getDuration accepts Go duration strings ("15s") or a bare number of seconds.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
