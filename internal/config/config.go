package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Orchestrator configuration (spec §6 named options)
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	TLSCertFile  string `mapstructure:"tls_cert_file"`
	TLSKeyFile   string `mapstructure:"tls_key_file"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// OrchestratorConfig holds the named options from spec §6's configuration
// table governing dispatch cadence, retention, and worker health timeouts.
type OrchestratorConfig struct {
	MaxWorkers                     int    `mapstructure:"max_workers"`
	DispatcherTickMs                int   `mapstructure:"dispatcher_tick_ms"`
	DefaultTaskTimeoutS              int  `mapstructure:"default_task_timeout_s"`
	DefaultMessageResponseTimeoutS    int `mapstructure:"default_message_response_timeout_s"`
	BlackoutCheckTZ                string `mapstructure:"blackout_check_tz"`
	DeadLetterRetentionH            int   `mapstructure:"dead_letter_retention_h"`
	TerminalTaskRetentionH           int   `mapstructure:"terminal_task_retention_h"`
	AntistarvationScanEveryNTicks    int   `mapstructure:"antistarvation_scan_every_n_ticks"`
	WorkerDegradeAfterMin            int   `mapstructure:"worker_degrade_after_min"`
	WorkerUnhealthyAfterMin          int   `mapstructure:"worker_unhealthy_after_min"`
}

func (o OrchestratorConfig) DispatcherTick() time.Duration {
	return time.Duration(o.DispatcherTickMs) * time.Millisecond
}

func (o OrchestratorConfig) DefaultTaskTimeout() time.Duration {
	return time.Duration(o.DefaultTaskTimeoutS) * time.Second
}

func (o OrchestratorConfig) DefaultMessageResponseTimeout() time.Duration {
	return time.Duration(o.DefaultMessageResponseTimeoutS) * time.Second
}

func (o OrchestratorConfig) DeadLetterRetention() time.Duration {
	return time.Duration(o.DeadLetterRetentionH) * time.Hour
}

func (o OrchestratorConfig) TerminalTaskRetention() time.Duration {
	return time.Duration(o.TerminalTaskRetentionH) * time.Hour
}

func (o OrchestratorConfig) WorkerDegradeAfter() time.Duration {
	return time.Duration(o.WorkerDegradeAfterMin) * time.Minute
}

func (o OrchestratorConfig) WorkerUnhealthyAfter() time.Duration {
	return time.Duration(o.WorkerUnhealthyAfterMin) * time.Minute
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		// Set defaults
		AppName:   "orchestrator",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			TLSEnabled:   false,
		},
		Database: DatabaseConfig{
			Type:     "arangodb",
			Host:     "localhost",
			Port:     8529,
			Database: "orchestrator",
			Username: "root",
			SSLMode:  "disable",
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:                    10,
			DispatcherTickMs:              100,
			DefaultTaskTimeoutS:           300,
			DefaultMessageResponseTimeoutS: 30,
			BlackoutCheckTZ:               "UTC",
			DeadLetterRetentionH:          72,
			TerminalTaskRetentionH:        24,
			AntistarvationScanEveryNTicks: 10,
			WorkerDegradeAfterMin:         5,
			WorkerUnhealthyAfterMin:       10,
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Add config paths
	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}

	// Add common config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/orchestrator")

	// Environment variable support
	viper.SetEnvPrefix("ORCH")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found is acceptable, we'll use defaults and env vars
	}

	// Unmarshal into struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	// Override with environment variables
	if password := os.Getenv("ORCH_DATABASE_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if port := os.Getenv("ORCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbPort := os.Getenv("ORCH_DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}

	return config, nil
}
