package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetSchedulerConfig() SchedulerConfig
	GetMessagingConfig() MessagingConfig
	GetEffectiveServerConfig() ServerConfig
	GetRedisDSN() string
	Validate() error
	DisplayServerConfig()
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// SchedulerConfig holds the timing constants for the life-cycle engine.
// Values are read once at startup and are not editable at runtime.
type SchedulerConfig struct {
	AutoCheckoutIntervalMinutes int `json:"auto_checkout_interval_minutes"`
	NotificationIntervalSeconds int `json:"notification_interval_seconds"`
	BusinessDayCutoverHour      int `json:"business_day_cutover_hour"`
	TimezoneOffsetHours         int `json:"timezone_offset_hours"`
	MaxRetryAttempts            int `json:"max_retry_attempts"`
	RetryBaseDelayMS            int `json:"retry_base_delay_ms"`
	PendingBatchSize            int `json:"pending_batch_size"`
	PendingMaxRetries           int `json:"pending_max_retries"`
	UnitAvailableDelayMinutes   int `json:"unit_available_delay_minutes"`
}

// MessagingConfig represents push messaging configuration
type MessagingConfig struct {
	PushGatewayURL string `json:"push_gateway_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}
