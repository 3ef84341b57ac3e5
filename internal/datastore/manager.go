// Package datastore opens the relational store, migrates the schema and
// exposes repositories for the inspection entities.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// Manager defines the lifecycle of a database backend.
type Manager interface {
	// Initialize migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location for display.
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Config holds SQLite manager configuration.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// Debug logs every statement.
	Debug bool
	// SlowThreshold marks queries logged at warn level.
	SlowThreshold time.Duration
	// Logger receives GORM output; nil silences it.
	Logger logger.Logger
}

// allModels lists every migrated entity in dependency order.
func allModels() []any {
	return []any{
		&entities.Transformer{},
		&entities.Inspection{},
		&entities.ThermalImage{},
		&entities.Annotation{},
		&entities.FeedbackLog{},
		&entities.Alert{},
		&entities.TrainingJob{},
	}
}

// gormLogger adapts the module logger, or silences GORM without one.
func gormLogger(log logger.Logger, slow time.Duration, debug bool) gormlogger.Interface {
	if log == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	adapter := logger.NewGormLoggerAdapter(log, slow)
	if debug {
		return adapter.LogMode(gormlogger.Info)
	}
	return adapter
}

// SQLiteManager handles a single-file SQLite database.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens (creating if needed) the SQLite database at cfg.Path.
func NewSQLiteManager(cfg Config) (*SQLiteManager, error) {
	if cfg.Path == "" {
		return nil, errors.Newf("sqlite path is required").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_database_directory").
				Context("path", dir).
				Build()
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger(cfg.Logger, cfg.SlowThreshold, cfg.Debug),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", cfg.Path).
			Build()
	}

	return &SQLiteManager{db: db, dbPath: cfg.Path}, nil
}

// Initialize migrates the schema.
func (m *SQLiteManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}

// legacyFeedbackAnnotationIndex was unique on annotation_id, which rejects
// manual logs for an annotation that already has a synthesized one.
const legacyFeedbackAnnotationIndex = "idx_feedback_logs_annotation_id"

func migrate(db *gorm.DB) error {
	m := db.Migrator()
	if m.HasTable(&entities.FeedbackLog{}) && m.HasIndex(&entities.FeedbackLog{}, legacyFeedbackAnnotationIndex) {
		if err := m.DropIndex(&entities.FeedbackLog{}, legacyFeedbackAnnotationIndex); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("operation", "drop_legacy_index").
				Build()
		}
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Priority(errors.PriorityCritical).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// Open creates and initializes the manager selected by settings.
func Open(settings *conf.Settings, log logger.Logger) (Manager, error) {
	var (
		m   Manager
		err error
	)

	switch settings.Database.Type {
	case "mysql":
		my := settings.Database.MySQL
		m, err = NewMySQLManager(&MySQLConfig{
			Host:          my.Host,
			Port:          my.Port,
			Username:      my.Username,
			Password:      my.Password,
			Database:      my.Database,
			Debug:         settings.Debug,
			SlowThreshold: settings.Database.SlowQueryThreshold,
			Logger:        log,
		})
	default:
		m, err = NewSQLiteManager(Config{
			Path:          settings.ResolvePath(settings.Database.SQLite.Path),
			Debug:         settings.Debug,
			SlowThreshold: settings.Database.SlowQueryThreshold,
			Logger:        log,
		})
	}
	if err != nil {
		return nil, err
	}

	if err := m.Initialize(); err != nil {
		_ = m.Close()
		return nil, err
	}
	if log != nil {
		log.Info("database ready",
			logger.String("type", settings.Database.Type),
			logger.String("location", m.Path()))
	}
	return m, nil
}
