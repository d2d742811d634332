package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config representa la configuración del servicio
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Inngest    InngestConfig
	Logging    LoggingConfig
	Email      EmailConfig
	PAC        PACConfig
	Storage    StorageConfig
	Reconciler ReconcilerConfig
}

// ServerConfig representa la configuración del servidor HTTP
type ServerConfig struct {
	Port    string
	Host    string
	Env     string
	BaseURL string
}

// DatabaseConfig representa la configuración de la base de datos
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig representa la configuración de Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// InngestConfig representa la configuración de Inngest
type InngestConfig struct {
	EventKey      string
	SigningKey    string
	SigningSecret string
	AppID         string
	Dev           bool
}

// LoggingConfig representa la configuración de logging
type LoggingConfig struct {
	Level  string
	Format string
}

// EmailConfig representa la configuración de email
type EmailConfig struct {
	ResendAPIKey string
	FromAddress  string
}

// PACConfig representa la configuración del gateway fiscal.
// El ambiente del tenant decide cuál base URL y token se usan.
type PACConfig struct {
	ProductionURL string
	StagingURL    string
	Timeout       time.Duration
	MaxRetries    int
	RetryBaseWait time.Duration
	// RequestTimeout acota la espera total de una operación del
	// orquestador; debe ser mayor que Timeout * (MaxRetries + 1)
	RequestTimeout time.Duration
}

// StorageConfig representa la configuración del storage S3
// donde se guardan los contenedores de certificados
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// ReconcilerConfig representa la configuración del reconciliador de estados
type ReconcilerConfig struct {
	Interval        time.Duration
	Debounce        time.Duration
	DocumentTimeout time.Duration
	BatchSize       int
}

// Load carga la configuración desde variables de entorno
func Load() (*Config, error) {
	// Cargar archivo .env si existe
	if err := godotenv.Load(); err != nil {
		// No es crítico si no existe el archivo .env
	}

	config := &Config{
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8082"),
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Env:     getEnv("SERVER_ENV", "development"),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8082"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PGHOST", "localhost"),
			Port:     getEnv("PGPORT", "5432"),
			User:     getEnv("PGUSER", "postgres"),
			Password: getEnv("PGPASSWORD", "postgres"),
			Name:     getEnv("PGDATABASE", "fiscal"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Inngest: InngestConfig{
			EventKey:      getEnv("INNGEST_EVENT_KEY", ""),
			SigningKey:    getEnv("INNGEST_SIGNING_KEY", ""),
			SigningSecret: getEnv("INNGEST_SIGNING_SECRET", ""),
			AppID:         getEnv("INNGEST_APP_ID", "fiscal-service"),
			Dev:           getEnvAsBool("INNGEST_DEV", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromAddress:  getEnv("EMAIL_FROM", "fiscal@hypernova-labs.com"),
		},
		PAC: PACConfig{
			ProductionURL:  getEnv("PAC_API_URL", "https://api.pac-provider.com"),
			StagingURL:     getEnv("PAC_STAGING_API_URL", "https://staging.pac-provider.com"),
			Timeout:        getEnvAsDuration("PAC_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvAsInt("PAC_MAX_RETRIES", 3),
			RetryBaseWait:  getEnvAsDuration("PAC_RETRY_BASE_WAIT", 250*time.Millisecond),
			RequestTimeout: getEnvAsDuration("PAC_REQUEST_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("STORAGE_BUCKET", "fiscal-certificates"),
		},
		Reconciler: ReconcilerConfig{
			Interval:        getEnvAsDuration("RECONCILER_INTERVAL", 60*time.Second),
			Debounce:        getEnvAsDuration("RECONCILER_DEBOUNCE", 30*time.Second),
			DocumentTimeout: getEnvAsDuration("RECONCILER_DOC_TIMEOUT", 15*time.Second),
			BatchSize:       getEnvAsInt("RECONCILER_BATCH_SIZE", 100),
		},
	}

	return config, nil
}

// getEnv obtiene una variable de entorno o retorna un valor por defecto
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt obtiene una variable de entorno como entero
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool obtiene una variable de entorno como booleano
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration obtiene una variable de entorno como duración
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// IsDevelopment retorna true si el entorno es de desarrollo
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction retorna true si el entorno es de producción
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN retorna la cadena de conexión a la base de datos
func (c *Config) GetDSN() string {
	return "host=" + c.Database.Host +
		" port=" + c.Database.Port +
		" user=" + c.Database.User +
		" password=" + c.Database.Password +
		" dbname=" + c.Database.Name +
		" sslmode=" + c.Database.SSLMode
}

// GetRedisAddr retorna la dirección de Redis
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
