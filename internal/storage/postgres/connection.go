package postgres

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config carries the connection settings for the queue database. The zero
// LogLevel is resolved from LogLevelString by LoadConfigFromEnv; callers
// constructing a Config directly set LogLevel themselves.
type Config struct {
	User           string        `env:"POSTGRES_USER,default=postgres"`
	Password       string        `env:"POSTGRES_PASSWORD,default=postgres"`
	Host           string        `env:"POSTGRES_HOST,default=postgres"`
	Port           string        `env:"POSTGRES_PORT,default=5432"`
	Database       string        `env:"POSTGRES_DB,default=renderdb"`
	MaxRetries     int           `env:"DB_MAX_RETRIES,default=10"`
	RetryDelay     time.Duration `env:"DB_RETRY_DELAY,default=2s"`
	LogLevelString string        `env:"DB_LOG_LEVEL,default=warn"`
	LogLevel       logger.LogLevel
}

// swapped out in tests
var envProcess = envconfig.Process

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.LogLevel = ParseLogLevel(cfg.LogLevelString)
	return &cfg, nil
}

func (cfg *Config) validate() error {
	var problems []string

	for name, value := range map[string]string{
		"POSTGRES_USER": cfg.User,
		"POSTGRES_DB":   cfg.Database,
		"POSTGRES_HOST": cfg.Host,
		"POSTGRES_PORT": cfg.Port,
	} {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, name+" is required")
		}
	}

	if cfg.Port != "" {
		if port, err := strconv.Atoi(cfg.Port); err != nil {
			problems = append(problems, "POSTGRES_PORT must be a valid number")
		} else if port < 1 || port > 65535 {
			problems = append(problems, "POSTGRES_PORT must be between 1 and 65535")
		}
	}
	if cfg.MaxRetries < 0 {
		problems = append(problems, "DB_MAX_RETRIES must be non-negative")
	}
	if cfg.RetryDelay <= 0 {
		problems = append(problems, "DB_RETRY_DELAY must be positive")
	} else if cfg.RetryDelay > 10*time.Minute {
		problems = append(problems, "DB_RETRY_DELAY must not exceed 10 minutes")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ConnectDB opens a gorm connection to PostgreSQL, retrying until the
// database answers a ping or the retry budget runs out. A nil cfg loads
// configuration from the environment.
func ConnectDB(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		loaded, err := LoadConfigFromEnv(context.Background())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port,
	)
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	}

	log.Printf("[DB] Connecting to %s@%s:%s/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		gdb, err := openAndPing(dsn, gormConfig)
		if err == nil {
			log.Printf("[DB] Connected on attempt %d/%d", attempt, cfg.MaxRetries)
			return gdb, nil
		}

		log.Printf("[DB][WARN] attempt %d/%d: %s. Retrying in %v...",
			attempt, cfg.MaxRetries, describeDBError(err), cfg.RetryDelay)
		time.Sleep(cfg.RetryDelay)
	}

	return nil, fmt.Errorf("database connection failed after %d attempts", cfg.MaxRetries)
}

func openAndPing(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// describeDBError trims driver noise out of connection failures before they
// hit the logs.
func describeDBError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "password authentication failed"):
		return "invalid database credentials"
	case strings.Contains(msg, "SASL"):
		return "authentication error"
	case strings.Contains(msg, "timeout"):
		return "database connection timed out"
	case strings.Contains(msg, "connect"):
		return "cannot reach database server"
	}
	return "database error"
}

func ParseLogLevel(levelStr string) logger.LogLevel {
	switch strings.ToLower(levelStr) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// MigrateModels auto-migrates the queue schema. Production deployments run
// the goose migrations instead; this covers local dev and the sqlite tests.
func MigrateModels(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	log.Println("[DB] Schema migration completed")
	return nil
}
