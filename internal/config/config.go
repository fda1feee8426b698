// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Schema   SchemaConfig   `mapstructure:"schema"`
	Plan     PlanConfig     `mapstructure:"plan"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SchemaConfig locates the relation schema definition.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// PlanConfig locates the operation script and controls output.
type PlanConfig struct {
	Script  string `mapstructure:"script"`
	Execute bool   `mapstructure:"execute"`
}

// DatabaseConfig holds database connection parameters. A full DSN wins over
// the individual fields.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EffectiveDSN returns the explicit DSN when set, otherwise one assembled
// from the individual connection fields in go-sql-driver format.
func (d *DatabaseConfig) EffectiveDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Database)
}

// ValidationIssue describes one configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult aggregates validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// HasErrors reports whether validation found any hard errors.
func (r ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// Validate checks the configuration for problems a run would hit later.
func (c *Config) Validate() ValidationResult {
	var result ValidationResult

	if c.Schema.Path == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "schema.path",
			Message: "no schema file configured",
			Hint:    "set --schema or schema.path in the config file",
		})
	}
	if c.Plan.Script == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "plan.script",
			Message: "no operation script configured",
			Hint:    "set --script or plan.script in the config file",
		})
	}
	if c.Plan.Execute && c.Database.DSN == "" && c.Database.Host == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "database",
			Message: "execution requested but no database configured",
			Hint:    "set --dsn or the database.* fields",
		})
	}
	if !c.Plan.Execute && (c.Database.DSN != "" || c.Database.Host != "") {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:   "database",
			Message: "database configured but execution disabled",
			Hint:    "pass --execute to run the compiled query",
		})
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", c.Logging.Level),
			Hint:    "use debug, info, warn, or error",
		})
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format %q", c.Logging.Format),
			Hint:    "use json or text",
		})
	}

	return result
}
