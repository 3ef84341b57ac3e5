// config.go: settings struct and functions to load and save gridlens configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gridlens/gridlens/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// WebServerSettings contains settings for the HTTP API.
type WebServerSettings struct {
	Host         string        // listen address
	Port         string        // listen port
	BodyLimit    string        // max request body, echo notation ("25M")
	AllowOrigins []string      // CORS origins
	ReadTimeout  time.Duration // request read timeout
	WriteTimeout time.Duration // response write timeout
}

// SQLiteSettings contains settings for the SQLite backend.
type SQLiteSettings struct {
	Path string // database file path
}

// MySQLSettings contains settings for the MySQL backend.
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DatabaseSettings selects and configures the relational store.
type DatabaseSettings struct {
	Type               string        // "sqlite" or "mysql"
	SQLite             SQLiteSettings
	MySQL              MySQLSettings
	SlowQueryThreshold time.Duration // queries slower than this are logged at warn
}

// S3Settings configures the S3 storage backend.
type S3Settings struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // key prefix inside the bucket
	UsePathStyle    bool
	PublicURL       string // base URL used to build image URLs; defaults to the virtual-hosted bucket URL
}

// GCSSettings configures the Google Cloud Storage backend.
type GCSSettings struct {
	Bucket          string
	CredentialsFile string // service account JSON, empty for application default credentials
	Prefix          string
	PublicURL       string
}

// StorageSettings selects where uploaded images are written.
type StorageSettings struct {
	Type      string // "local", "s3" or "gcs"
	UploadDir string // local upload directory, also used as a read-through cache for remote backends
	URLPrefix string // public prefix for locally served files
	MaxUpload string // max upload size, echo notation
	S3        S3Settings
	GCS       GCSSettings
}

// RoboflowSettings configures the hosted inference and dataset APIs.
type RoboflowSettings struct {
	APIKey            string
	Workspace         string
	Project           string        // project slug used for training
	Dataset           string        // dataset slug used for uploads, defaults to Project
	InferenceURL      string        // workflow endpoint used for anomaly detection
	APIURL            string        // base URL of the REST API
	AnnotatePath      string        // fallback dataset item id when an upload returns none
	AutoAnnotate      bool          // annotate right after upload
	ModelType         string        // model trained by training jobs
	Timeout           time.Duration // per-request timeout
	RequestsPerSecond float64       // outbound rate limit, 0 disables
	UploadConcurrency int           // parallel uploads in batch operations
}

// RedisSettings configures the optional distributed sync lock.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// SyncSettings configures annotation reconciliation.
type SyncSettings struct {
	Redis       RedisSettings
	LockTimeout time.Duration // max wait for a per-image lock
}

// TrainingSettings configures the background retraining queue.
type TrainingSettings struct {
	Enabled   bool
	QueueSize int
}

// MQTTSettings configures alert publishing over MQTT.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
}

// ShoutrrrSettings configures alert fan-out to chat/push services.
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string
	Timeout time.Duration
}

// AlertSettings configures alert creation and delivery.
type AlertSettings struct {
	MinConfidence float64 // predictions below this do not raise an alert
	MQTT          MQTTSettings
	Shoutrrr      ShoutrrrSettings
}

// SFTPSettings configures SFTP export delivery.
type SFTPSettings struct {
	Enabled        bool
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Path           string
	Timeout        time.Duration
}

// FTPSettings configures FTP export delivery.
type FTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

// LocalExportSettings configures export delivery to a local directory.
type LocalExportSettings struct {
	Enabled bool
	Path    string
}

// ExportSettings configures where feedback exports can be delivered.
type ExportSettings struct {
	Local LocalExportSettings
	SFTP  SFTPSettings
	FTP   FTPSettings
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// CacheSettings configures in-memory response caching.
type CacheSettings struct {
	TTL time.Duration
}

// Settings contains all configuration options for gridlens.
type Settings struct {
	Debug bool // true to enable debug mode

	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name    string // instance name, reported in health checks and alerts
		DataDir string // directory for the lock file and default SQLite database
	}

	Logging   logger.LoggingConfig
	WebServer WebServerSettings
	Database  DatabaseSettings
	Storage   StorageSettings
	Roboflow  RoboflowSettings
	Sync      SyncSettings
	Training  TrainingSettings
	Alerts    AlertSettings
	Export    ExportSettings
	Telemetry TelemetrySettings
	Cache     CacheSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a new Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	loadDotEnv()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	applyLegacyEnv(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds the environment and reads the config file,
// writing a default one when none exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if explicit := viper.GetString("config"); explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml to the first config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default config.yaml.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// Redacted returns a copy of s with credentials masked, for display.
func (s *Settings) Redacted() *Settings {
	c := *s
	mask := func(v *string) {
		if *v != "" {
			*v = logger.MaskSecret(*v)
		}
	}
	mask(&c.Roboflow.APIKey)
	mask(&c.Database.MySQL.Password)
	mask(&c.Storage.S3.AccessKeyID)
	mask(&c.Storage.S3.SecretAccessKey)
	mask(&c.Sync.Redis.Password)
	mask(&c.Alerts.MQTT.Password)
	mask(&c.Export.SFTP.Password)
	mask(&c.Export.FTP.Password)
	mask(&c.Telemetry.DSN)
	c.Alerts.Shoutrrr.URLs = make([]string, len(s.Alerts.Shoutrrr.URLs))
	for i, u := range s.Alerts.Shoutrrr.URLs {
		c.Alerts.Shoutrrr.URLs[i] = logger.MaskSecret(u)
	}
	return &c
}

// DatasetSlug returns the dataset used for uploads.
func (r *RoboflowSettings) DatasetSlug() string {
	if r.Dataset != "" {
		return r.Dataset
	}
	return r.Project
}
