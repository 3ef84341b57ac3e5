// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Roboflow endpoints and dataset used by the inspection team.
const (
	DefaultRoboflowAPIURL       = "https://api.roboflow.com"
	DefaultRoboflowInferenceURL = "https://serverless.roboflow.com/infer/workflows/isiriw/detect-count-and-visualize"
	DefaultRoboflowWorkspace    = "isiriw"
	DefaultRoboflowProject      = "transformer-thermal-images-bpkdr"
	DefaultRoboflowModelType    = "yolov11s"
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "gridlens")
	viper.SetDefault("main.datadir", "data")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/gridlens.log")
	viper.SetDefault("logging.file_output.max_size", 100)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_rotated_files", 10)
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("webserver.host", "")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.bodylimit", "25M")
	viper.SetDefault("webserver.alloworigins", []string{"*"})
	viper.SetDefault("webserver.readtimeout", 30*time.Second)
	viper.SetDefault("webserver.writetimeout", 2*time.Minute)

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "gridlens.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.database", "gridlens")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)

	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.uploaddir", "uploads")
	viper.SetDefault("storage.urlprefix", "/uploads")
	viper.SetDefault("storage.maxupload", "25M")
	viper.SetDefault("storage.s3.region", "us-east-1")

	viper.SetDefault("roboflow.apiurl", DefaultRoboflowAPIURL)
	viper.SetDefault("roboflow.inferenceurl", DefaultRoboflowInferenceURL)
	viper.SetDefault("roboflow.workspace", DefaultRoboflowWorkspace)
	viper.SetDefault("roboflow.project", DefaultRoboflowProject)
	viper.SetDefault("roboflow.autoannotate", true)
	viper.SetDefault("roboflow.modeltype", DefaultRoboflowModelType)
	viper.SetDefault("roboflow.timeout", 60*time.Second)
	viper.SetDefault("roboflow.requestspersecond", 5.0)
	viper.SetDefault("roboflow.uploadconcurrency", 4)

	viper.SetDefault("sync.locktimeout", 10*time.Second)
	viper.SetDefault("sync.redis.enabled", false)
	viper.SetDefault("sync.redis.addr", "localhost:6379")
	viper.SetDefault("sync.redis.lockttl", 30*time.Second)

	viper.SetDefault("training.enabled", true)
	viper.SetDefault("training.queuesize", 16)

	viper.SetDefault("alerts.minconfidence", 0.5)
	viper.SetDefault("alerts.mqtt.enabled", false)
	viper.SetDefault("alerts.mqtt.clientid", "gridlens")
	viper.SetDefault("alerts.mqtt.topic", "gridlens/alerts")
	viper.SetDefault("alerts.mqtt.qos", 1)
	viper.SetDefault("alerts.shoutrrr.enabled", false)
	viper.SetDefault("alerts.shoutrrr.timeout", 10*time.Second)

	viper.SetDefault("export.local.enabled", true)
	viper.SetDefault("export.local.path", "exports")
	viper.SetDefault("export.sftp.port", 22)
	viper.SetDefault("export.sftp.timeout", 30*time.Second)
	viper.SetDefault("export.ftp.port", 21)
	viper.SetDefault("export.ftp.timeout", 30*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.environment", "production")

	viper.SetDefault("cache.ttl", 30*time.Second)
}
