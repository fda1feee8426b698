package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Command line flags
// 2. Environment variables
// 3. Config file
// 4. Default values
func Load() (*Config, error) {
	v := viper.New()

	// Defaults (lowest priority)
	setDefaults(v)

	// --- Flags ---
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	// --- Config file ---
	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("joinplan")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.joinplan")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case. Env vars: JOINPLAN_DATABASE_DSN.
	v.SetEnvPrefix("JOINPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags binding (highest priority) ---
	bindChangedFlagsToViper(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly set flags into viper, so an
// untouched flag default cannot shadow a config file or env value.
func bindChangedFlagsToViper(v *viper.Viper) {
	flagToKey := map[string]string{
		"schema":     "schema.path",
		"script":     "plan.script",
		"execute":    "plan.execute",
		"dsn":        "database.dsn",
		"db-host":    "database.host",
		"db-port":    "database.port",
		"db-user":    "database.user",
		"db-name":    "database.database",
		"log-level":  "logging.level",
		"log-format": "logging.format",
	}
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if key, ok := flagToKey[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})
}

func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("config", "", "Path to config file")
		pflag.String("schema", "", "Path to the relation schema YAML file")
		pflag.String("script", "", "Path to the operation script YAML file")
		pflag.Bool("execute", false, "Execute the compiled query against the database")
		pflag.String("dsn", "", "Database DSN (overrides the individual db-* flags)")
		pflag.String("db-host", "", "Database host")
		pflag.Int("db-port", 4000, "Database port")
		pflag.String("db-user", "", "Database user")
		pflag.String("db-name", "", "Database name")
		pflag.String("log-level", "", "Log level: debug, info, warn, error")
		pflag.String("log-format", "", "Log format: json, text")
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema.path", "")
	v.SetDefault("plan.script", "")
	v.SetDefault("plan.execute", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
