package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Config holds the MySQL connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	// AutoMigrate runs gorm's schema migration on Open. Deployments that use
	// cmd/migrate turn it off.
	AutoMigrate bool
}

// LoadConfig reads the database settings from the environment.
func LoadConfig() Config {
	return Config{
		User:     env.GetEnv("DB_USER", ""),
		Password: env.GetEnv("DB_PASSWORD", ""),
		Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:     env.GetEnv("DB_PORT", "3306"),
		Name:     env.GetEnv("DB_NAME", ""),

		AutoMigrate: env.GetEnv("DB_AUTO_MIGRATE", "true") == "true",
	}
}

// DSN renders the go-sql-driver DSN for the config.
func (c Config) DSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// Open connects to MySQL, retrying while the server comes up, and optionally migrates the schema.
// The caller owns the returned handle.
func Open(cfg Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{})
		if err == nil {
			if !cfg.AutoMigrate {
				return db, nil
			}
			if err = AutoMigrate(db); err != nil {
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
			return db, nil
		}

		log.Warnf("[Database] Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// AutoMigrate creates or updates every table the pipeline uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.AppUser{},
		&models.TokenLedgerEntry{},
		&models.Provider{},
		&models.ProviderConfig{},
		&models.ModelPricing{},
		&models.GenerationJob{},
		&models.JobOutput{},
		&models.ProviderUsageLog{},
		&models.BillingWebhookEvent{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("[Database] Failed to access connection pool: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Errorf("[Database] Failed to close connection pool: %v", err)
	}
}
