// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every automatic environment override (GRIDLENS_WEBSERVER_PORT).
const EnvPrefix = "GRIDLENS"

// envBinding holds metadata for explicit environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings returns the bindings whose names do not follow the GRIDLENS_ scheme.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"roboflow.apikey", "ROBOFLOW_API_KEY", nil},
		{"roboflow.workspace", "ROBOFLOW_WORKSPACE", nil},
		{"roboflow.project", "ROBOFLOW_PROJECT", nil},
		{"roboflow.dataset", "ROBOFLOW_DATASET", nil},
		{"database.mysql.password", "MYSQL_PASSWORD", nil},
		{"storage.s3.accesskeyid", "AWS_ACCESS_KEY_ID", nil},
		{"storage.s3.secretaccesskey", "AWS_SECRET_ACCESS_KEY", nil},
		{"storage.gcs.credentialsfile", "GOOGLE_APPLICATION_CREDENTIALS", nil},
		{"telemetry.dsn", "SENTRY_DSN", validateEnvURL},
		{"webserver.port", "PORT", validateEnvPort},
	}
}

// loadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}
	}
}

// configureEnvironmentVariables enables GRIDLENS_ overrides and explicit bindings.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}

func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		// GRIDLENS_ variables take precedence over the legacy name
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		if err := viper.BindEnv(binding.ConfigKey, prefixed, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if value := os.Getenv(binding.EnvVar); value != "" {
				if err := binding.Validate(value); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// applyLegacyEnv fills settings that were historically configured only by environment.
func applyLegacyEnv(settings *Settings) {
	if settings.Roboflow.Dataset == "" {
		settings.Roboflow.Dataset = settings.Roboflow.Project
	}
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
