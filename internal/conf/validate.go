// conf/validate.go

package conf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gridlens/gridlens/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory marks configuration problems for the errors package.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateWebServerSettings,
		validateDatabaseSettings,
		validateStorageSettings,
		validateRoboflowSettings,
		validateAlertSettings,
		validateExportSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port %q is not a valid port", s.WebServer.Port)
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "mysql":
		m := s.Database.MySQL
		if m.Host == "" || m.Database == "" || m.Username == "" {
			return fmt.Errorf("database.mysql requires host, database and username")
		}
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", s.Database.Type)
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	if s.Storage.UploadDir == "" {
		return fmt.Errorf("storage.uploaddir is required")
	}
	switch s.Storage.Type {
	case "local":
	case "s3":
		if s.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	case "gcs":
		if s.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.type must be local, s3 or gcs, got %q", s.Storage.Type)
	}
	return nil
}

// validateRoboflowSettings does not require an API key: without one the
// service runs with inference and dataset features disabled.
func validateRoboflowSettings(s *Settings) error {
	r := s.Roboflow
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("roboflow.requestspersecond must not be negative")
	}
	if r.UploadConcurrency < 1 {
		return fmt.Errorf("roboflow.uploadconcurrency must be at least 1")
	}
	if r.APIKey != "" && r.Project == "" {
		return fmt.Errorf("roboflow.project is required when an API key is set")
	}
	return nil
}

func validateAlertSettings(s *Settings) error {
	a := s.Alerts
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("alerts.minconfidence must be between 0 and 1")
	}
	if a.MQTT.Enabled && a.MQTT.Broker == "" {
		return fmt.Errorf("alerts.mqtt.broker is required when MQTT is enabled")
	}
	if a.MQTT.QoS > 2 {
		return fmt.Errorf("alerts.mqtt.qos must be 0, 1 or 2")
	}
	if a.Shoutrrr.Enabled && len(a.Shoutrrr.URLs) == 0 {
		return fmt.Errorf("alerts.shoutrrr.urls is required when shoutrrr is enabled")
	}
	return nil
}

func validateExportSettings(s *Settings) error {
	if s.Export.SFTP.Enabled && s.Export.SFTP.Host == "" {
		return fmt.Errorf("export.sftp.host is required when SFTP export is enabled")
	}
	if s.Export.FTP.Enabled && s.Export.FTP.Host == "" {
		return fmt.Errorf("export.ftp.host is required when FTP export is enabled")
	}
	return nil
}
