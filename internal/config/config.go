package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	APIPort int `mapstructure:"apiPort"`

	Database struct {
		Type            string `mapstructure:"type"`
		Path            string `mapstructure:"path"`
		Host            string `mapstructure:"host"`
		Port            string `mapstructure:"port"`
		Name            string `mapstructure:"name"`
		User            string `mapstructure:"user"`
		Password        string `mapstructure:"password"`
		SSLMode         string `mapstructure:"sslMode"`
		MaxConns        int    `mapstructure:"maxConns"`
		MaxIdle         int    `mapstructure:"maxIdle"`
		ConnMaxLifetime string `mapstructure:"connMaxLifetime"`
	} `mapstructure:"database"`

	Session struct {
		CookieName    string `mapstructure:"cookieName"`
		TTLHours      int    `mapstructure:"ttlHours"`
		FallbackHours int    `mapstructure:"fallbackHours"`
		Secure        bool   `mapstructure:"secure"`
	} `mapstructure:"session"`

	Staging struct {
		TTLHours int `mapstructure:"ttlHours"`
	} `mapstructure:"staging"`

	Pricing struct {
		Currency             string `mapstructure:"currency"`
		FirstReportCents     int64  `mapstructure:"firstReportCents"`
		ReturningReportCents int64  `mapstructure:"returningReportCents"`
		AccessPassCents      int64  `mapstructure:"accessPassCents"`
		RetakeBundleCents    int64  `mapstructure:"retakeBundleCents"`
		RetakeBundleSize     int    `mapstructure:"retakeBundleSize"`
	} `mapstructure:"pricing"`

	Auth struct {
		JWTSecret   string `mapstructure:"jwtSecret"`
		JWTTTLHours int    `mapstructure:"jwtTtlHours"`
		AdminToken  string `mapstructure:"adminToken"`
	} `mapstructure:"auth"`

	Processor struct {
		BaseURL         string `mapstructure:"baseUrl"`
		APIKey          string `mapstructure:"apiKey"`
		CheckoutBaseURL string `mapstructure:"checkoutBaseUrl"`
	} `mapstructure:"processor"`

	Scoring struct {
		BaseURL string `mapstructure:"baseUrl"`
	} `mapstructure:"scoring"`

	SMTP struct {
		Server   string `mapstructure:"server"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`

	Reports struct {
		S3Endpoint  string `mapstructure:"s3Endpoint"`
		S3Region    string `mapstructure:"s3Region"`
		S3Bucket    string `mapstructure:"s3Bucket"`
		S3AccessKey string `mapstructure:"s3AccessKey"`
		S3SecretKey string `mapstructure:"s3SecretKey"`
	} `mapstructure:"reports"`
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Printf("Warning: Could not read config file: %s. Using defaults or environment variables.", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.APIPort == 0 {
		cfg.APIPort = 8081
		log.Println("APIPort not specified, using default 8081")
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/bizmatch.db"
		log.Println("Database path not specified, using default /data/bizmatch.db")
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_token"
	}
	if cfg.Session.TTLHours == 0 {
		cfg.Session.TTLHours = 24
	}
	if cfg.Session.FallbackHours == 0 {
		cfg.Session.FallbackHours = 24
	}
	if cfg.Staging.TTLHours == 0 {
		// Matches the usual checkout-abandonment window.
		cfg.Staging.TTLHours = 24
	}
	if cfg.Pricing.Currency == "" {
		cfg.Pricing.Currency = "usd"
	}
	if cfg.Pricing.FirstReportCents == 0 {
		cfg.Pricing.FirstReportCents = 2900
	}
	if cfg.Pricing.ReturningReportCents == 0 {
		cfg.Pricing.ReturningReportCents = 1900
	}
	if cfg.Pricing.AccessPassCents == 0 {
		cfg.Pricing.AccessPassCents = 9900
	}
	if cfg.Pricing.RetakeBundleCents == 0 {
		cfg.Pricing.RetakeBundleCents = 900
	}
	if cfg.Pricing.RetakeBundleSize == 0 {
		cfg.Pricing.RetakeBundleSize = 3
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret-change-me"
		log.Println("Auth JWT secret not specified, using insecure default")
	}
	if cfg.Auth.JWTTTLHours == 0 {
		cfg.Auth.JWTTTLHours = 24
	}
}
