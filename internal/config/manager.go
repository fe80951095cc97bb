// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"stayflow/internal/types"
	"stayflow/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Manager implements types.ConfigManager on top of environment variables.
// Values are read once at construction; the scheduler constants are not
// editable at runtime.
type Manager struct {
	server    types.ServerConfig
	auth      types.AuthConfig
	cors      types.CORSConfig
	log       types.LogConfig
	database  types.DatabaseConfig
	scheduler types.SchedulerConfig
	messaging types.MessagingConfig
	redisDSN  string
}

// NewManager creates a configuration manager from the process environment.
// A .env file is loaded first when present.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	m := &Manager{
		server: types.ServerConfig{
			Port:                    utils.ParseInteger(utils.GetEnvOrDefault("PORT", "3001"), 3001),
			Host:                    utils.GetEnvOrDefault("HOST", "0.0.0.0"),
			ReadTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_READ_TIMEOUT", "60"), 60),
			WriteTimeout:            utils.ParseInteger(utils.GetEnvOrDefault("SERVER_WRITE_TIMEOUT", "60"), 60),
			IdleTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_IDLE_TIMEOUT", "120"), 120),
			GracefulShutdownTimeout: utils.ParseInteger(utils.GetEnvOrDefault("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", "30"), 30),
		},
		auth: types.AuthConfig{
			Key: utils.GetEnvOrDefault("AUTH_KEY", ""),
		},
		cors: types.CORSConfig{
			Enabled:          utils.ParseBoolean(utils.GetEnvOrDefault("ENABLE_CORS", "true"), true),
			AllowedOrigins:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_ORIGINS", "*")),
			AllowedMethods:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*")),
			AllowCredentials: utils.ParseBoolean(utils.GetEnvOrDefault("ALLOW_CREDENTIALS", "false"), false),
		},
		log: types.LogConfig{
			Level:      utils.GetEnvOrDefault("LOG_LEVEL", "info"),
			Format:     utils.GetEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: utils.ParseBoolean(utils.GetEnvOrDefault("LOG_ENABLE_FILE", "false"), false),
			FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
		},
		database: types.DatabaseConfig{
			DSN: utils.GetEnvOrDefault("DATABASE_DSN", "./data/stayflow.db"),
		},
		scheduler: types.SchedulerConfig{
			AutoCheckoutIntervalMinutes: utils.ParseInteger(utils.GetEnvOrDefault("AUTO_CHECKOUT_INTERVAL_MINUTES", "1"), 1),
			NotificationIntervalSeconds: utils.ParseInteger(utils.GetEnvOrDefault("NOTIFICATION_INTERVAL_SECONDS", "60"), 60),
			BusinessDayCutoverHour:      utils.ParseInteger(utils.GetEnvOrDefault("BUSINESS_DAY_CUTOVER_HOUR", "12"), 12),
			TimezoneOffsetHours:         utils.ParseInteger(utils.GetEnvOrDefault("TIMEZONE_OFFSET_HOURS", "7"), 7),
			MaxRetryAttempts:            utils.ParseInteger(utils.GetEnvOrDefault("SCHEDULER_MAX_RETRY_ATTEMPTS", "3"), 3),
			RetryBaseDelayMS:            utils.ParseInteger(utils.GetEnvOrDefault("SCHEDULER_RETRY_BASE_DELAY_MS", "500"), 500),
			PendingBatchSize:            utils.ParseInteger(utils.GetEnvOrDefault("PENDING_NOTIFICATION_BATCH_SIZE", "50"), 50),
			PendingMaxRetries:           utils.ParseInteger(utils.GetEnvOrDefault("PENDING_NOTIFICATION_MAX_RETRIES", "3"), 3),
			UnitAvailableDelayMinutes:   utils.ParseInteger(utils.GetEnvOrDefault("UNIT_AVAILABLE_DELAY_MINUTES", "30"), 30),
		},
		messaging: types.MessagingConfig{
			PushGatewayURL: utils.GetEnvOrDefault("PUSH_GATEWAY_URL", ""),
			TimeoutSeconds: utils.ParseInteger(utils.GetEnvOrDefault("PUSH_TIMEOUT_SECONDS", "20"), 20),
		},
		redisDSN: utils.GetEnvOrDefault("REDIS_DSN", ""),
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (m *Manager) Validate() error {
	if m.server.Port < 1 || m.server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", m.server.Port)
	}
	if m.database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	sc := m.scheduler
	if sc.BusinessDayCutoverHour < 0 || sc.BusinessDayCutoverHour > 23 {
		return fmt.Errorf("BUSINESS_DAY_CUTOVER_HOUR must be in [0,23], got %d", sc.BusinessDayCutoverHour)
	}
	if sc.TimezoneOffsetHours < -12 || sc.TimezoneOffsetHours > 14 {
		return fmt.Errorf("TIMEZONE_OFFSET_HOURS must be in [-12,14], got %d", sc.TimezoneOffsetHours)
	}
	if sc.AutoCheckoutIntervalMinutes < 1 {
		return fmt.Errorf("AUTO_CHECKOUT_INTERVAL_MINUTES must be >= 1")
	}
	if sc.NotificationIntervalSeconds < 1 {
		return fmt.Errorf("NOTIFICATION_INTERVAL_SECONDS must be >= 1")
	}
	if sc.MaxRetryAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_RETRY_ATTEMPTS must be >= 1")
	}
	if sc.PendingBatchSize < 1 {
		return fmt.Errorf("PENDING_NOTIFICATION_BATCH_SIZE must be >= 1")
	}
	return nil
}

func (m *Manager) GetAuthConfig() types.AuthConfig           { return m.auth }
func (m *Manager) GetCORSConfig() types.CORSConfig           { return m.cors }
func (m *Manager) GetLogConfig() types.LogConfig             { return m.log }
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig   { return m.database }
func (m *Manager) GetSchedulerConfig() types.SchedulerConfig { return m.scheduler }
func (m *Manager) GetMessagingConfig() types.MessagingConfig { return m.messaging }
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.server
}
func (m *Manager) GetRedisDSN() string { return m.redisDSN }

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	logrus.Info("Server configuration:")
	logrus.Infof("  Listen: %s:%d", m.server.Host, m.server.Port)
	logrus.Infof("  Auto-checkout interval: %dm", m.scheduler.AutoCheckoutIntervalMinutes)
	logrus.Infof("  Notification interval: %ds", m.scheduler.NotificationIntervalSeconds)
	logrus.Infof("  Business day cutover: %02d:00 (UTC%+d)", m.scheduler.BusinessDayCutoverHour, m.scheduler.TimezoneOffsetHours)
	if m.redisDSN != "" {
		logrus.Info("  Store: redis")
	} else {
		logrus.Info("  Store: memory")
	}
}
