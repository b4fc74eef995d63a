package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Database Configuration
	Database struct {
		Driver   string
		Path     string // For SQLite
		Host     string // For PostgreSQL
		Port     int    // For PostgreSQL
		User     string // For PostgreSQL
		Password string // For PostgreSQL
		Name     string // For PostgreSQL
		SSLMode  string // For PostgreSQL
	}

	// Admin Server Configuration
	AdminServer struct {
		Host string
		Port int
	}

	// Mail Server Configuration
	MailServer struct {
		Host         string
		Port         int
		Domain       string
		MaxEmailSize int64
		SMTPHost     string
		SMTPPort     int
	}

	// Storage Configuration
	Storage struct {
		Root string
	}

	// Ingest Configuration
	Ingest struct {
		// PrivateByDefault controls the privacy flag for newly created
		// sender relationships. Policy, not a constant.
		PrivateByDefault bool
	}

	// Mailgun Configuration (optional)
	Mailgun struct {
		APIKey      string
		Domain      string
		FromAddress string
	}
}

// LoadConfig loads the configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Read config file
	v.SetConfigName("config")             // name of config file (without extension)
	v.SetConfigType("yaml")               // type of config file
	v.AddConfigPath(".")                  // current directory
	v.AddConfigPath("$HOME/.stackletter") // home directory
	v.AddConfigPath("/etc/stackletter/")  // system directory

	// Read config file (if exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - that's ok, we'll use env vars and defaults
	}

	// Environment variables
	v.SetEnvPrefix("STACKLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "stackletter.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "stackletter")
	v.SetDefault("database.sslmode", "disable")

	// Admin server defaults
	v.SetDefault("adminserver.host", "0.0.0.0")
	v.SetDefault("adminserver.port", 8080)

	// Mail server defaults
	v.SetDefault("mailserver.host", "0.0.0.0")
	v.SetDefault("mailserver.port", 25)
	v.SetDefault("mailserver.maxemailsize", 10*1024*1024) // 10MB
	v.SetDefault("mailserver.smtphost", "0.0.0.0")
	v.SetDefault("mailserver.smtpport", 2525)

	// Storage defaults
	v.SetDefault("storage.root", "data/blobs")

	// Ingest defaults: private-by-default
	v.SetDefault("ingest.privatebydefault", true)
}
