// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with GATELEEN_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with GATELEEN_ prefix
	v.SetEnvPrefix("GATELEEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "GATELEEN_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "GATELEEN_DATA_REDIS_PASSWORD")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Breaker: &Breaker{
			InstanceID:      v.GetString("breaker.instance_id"),
			RulesPath:       v.GetString("breaker.rules_path"),
			MetricsInterval: v.GetDuration("breaker.metrics_interval"),
			APIPrefix:       v.GetString("breaker.api_prefix"),
			ScriptLogOutput: v.GetBool("breaker.script_log_output"),
		},
	}

	if bc.Breaker.InstanceID == "" {
		bc.Breaker.InstanceID, _ = os.Hostname()
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":7012")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 500*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Breaker defaults
	v.SetDefault("breaker.metrics_interval", 60*time.Second)
	v.SetDefault("breaker.api_prefix", "/queuecircuitbreaker")
	v.SetDefault("breaker.script_log_output", false)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Server == nil || bc.Server.HTTP == nil || bc.Server.HTTP.Addr == "" {
		missingFields = append(missingFields, "server.http.addr")
	}

	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		missingFields = append(missingFields, "data.redis.addr (REDIS_ADDR)")
	}

	if bc.Breaker == nil || bc.Breaker.InstanceID == "" {
		missingFields = append(missingFields, "breaker.instance_id")
	}

	if bc.Breaker == nil || bc.Breaker.MetricsInterval <= 0 {
		missingFields = append(missingFields, "breaker.metrics_interval (must be > 0)")
	}

	if bc.Breaker == nil || !strings.HasPrefix(bc.Breaker.APIPrefix, "/") {
		missingFields = append(missingFields, "breaker.api_prefix (must start with /)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
