package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gridlens/gridlens/internal/errors"
)

func validSettings() *Settings {
	s := &Settings{}
	s.WebServer.Port = "8080"
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = "gridlens.db"
	s.Storage.Type = "local"
	s.Storage.UploadDir = "uploads"
	s.Roboflow.UploadConcurrency = 4
	s.Roboflow.Project = DefaultRoboflowProject
	s.Alerts.MinConfidence = 0.5
	return s
}

func TestValidateSettings_Valid(t *testing.T) {
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettings_CollectsAllErrors(t *testing.T) {
	s := validSettings()
	s.WebServer.Port = "http"
	s.Database.Type = "postgres"
	s.Storage.Type = "s3"
	s.Alerts.MQTT.Enabled = true

	err := ValidateSettings(s)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 4)
	assert.Contains(t, err.Error(), "webserver.port")
	assert.Contains(t, err.Error(), "database.type")
	assert.Contains(t, err.Error(), "storage.s3.bucket")
	assert.Contains(t, err.Error(), "alerts.mqtt.broker")
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestValidateSettings_Storage(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"local", func(s *Settings) {}, false},
		{"s3 with bucket", func(s *Settings) { s.Storage.Type = "s3"; s.Storage.S3.Bucket = "b" }, false},
		{"gcs without bucket", func(s *Settings) { s.Storage.Type = "gcs" }, true},
		{"unknown backend", func(s *Settings) { s.Storage.Type = "ftp" }, true},
		{"no upload dir", func(s *Settings) { s.Storage.UploadDir = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmbeddedDefaultConfigParses(t *testing.T) {
	data, err := getDefaultConfig()
	require.NoError(t, err)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(data)))

	var s Settings
	require.NoError(t, v.Unmarshal(&s))
	assert.Equal(t, "sqlite", s.Database.Type)
	assert.Equal(t, "8080", s.WebServer.Port)
	assert.Equal(t, DefaultRoboflowProject, s.Roboflow.Project)
	assert.Equal(t, 4, s.Roboflow.UploadConcurrency)
	assert.NoError(t, ValidateSettings(&s))
}

func TestRedactedMasksSecrets(t *testing.T) {
	s := validSettings()
	s.Roboflow.APIKey = "rf_abcdefghijklmnop"
	s.Database.MySQL.Password = "hunter22"
	s.Alerts.Shoutrrr.URLs = []string{"telegram://token@telegram?chats=1"}

	r := s.Redacted()
	assert.NotEqual(t, s.Roboflow.APIKey, r.Roboflow.APIKey)
	assert.Equal(t, "****", r.Database.MySQL.Password)
	assert.NotContains(t, r.Alerts.Shoutrrr.URLs[0], "token@telegram?chats")
	// original untouched
	assert.Equal(t, "rf_abcdefghijklmnop", s.Roboflow.APIKey)
	assert.Equal(t, "telegram://token@telegram?chats=1", s.Alerts.Shoutrrr.URLs[0])
}

func TestSaveYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s := validSettings()
	s.Roboflow.Workspace = "acme"

	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Contains(t, string(data), "acme")
	assert.NotContains(t, out, "version")
}

func TestDatasetSlugFallsBackToProject(t *testing.T) {
	r := RoboflowSettings{Project: "proj"}
	assert.Equal(t, "proj", r.DatasetSlug())
	r.Dataset = "ds"
	assert.Equal(t, "ds", r.DatasetSlug())
}

func TestResolvePath(t *testing.T) {
	s := &Settings{}
	s.Main.DataDir = "/var/lib/gridlens"
	assert.Equal(t, "/var/lib/gridlens/gridlens.db", s.ResolvePath("gridlens.db"))
	assert.Equal(t, "/tmp/x.db", s.ResolvePath("/tmp/x.db"))
	assert.Empty(t, s.ResolvePath(""))
}

func TestValidateEnvHelpers(t *testing.T) {
	assert.NoError(t, validateEnvPort("8080"))
	assert.Error(t, validateEnvPort("0"))
	assert.Error(t, validateEnvPort("abc"))
	assert.NoError(t, validateEnvURL("https://key@sentry.io/1"))
	assert.Error(t, validateEnvURL("not a url"))
}
