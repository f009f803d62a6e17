package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/auditron/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Cloud         CloudConfig
	Observability ObservabilityConfig
	Environment   string
}

// responseMargin is held back from the write timeout for encoding and
// writing the audit response
const responseMargin = 5 * time.Second

// defaultRequestTimeout applies when the server has no write deadline
const defaultRequestTimeout = 5 * time.Minute

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds the credential store connection.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds Supabase access token verification settings
type AuthConfig struct {
	JWTSecret   string
	Audience    string
	SupabaseURL string // Issuer is <SupabaseURL>/auth/v1 when set
}

// AuditConfig bounds a single audit request
type AuditConfig struct {
	ControlTimeout    time.Duration
	MaxConcurrency    int
	CredentialTimeout time.Duration
	MaxControls       int
}

// CloudConfig holds the credentials used when a user has nothing stored
type CloudConfig struct {
	AWS   AWSConfig
	Azure AzureConfig
	GCP   GCPConfig
}

// AWSConfig holds the AWS environment bundle
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// AzureConfig holds the Azure service principal
type AzureConfig struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

// GCPConfig points at a service account document
type GCPConfig struct {
	ServiceAccountFile string
	ServiceAccountJSON string
	ProjectID          string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret:   getEnv("SUPABASE_JWT_SECRET", ""),
			Audience:    getEnv("SUPABASE_JWT_AUDIENCE", "authenticated"),
			SupabaseURL: strings.TrimSuffix(getEnv("SUPABASE_URL", ""), "/"),
		},
		Audit: AuditConfig{
			ControlTimeout:    getEnvAsDuration("AUDIT_CONTROL_TIMEOUT", 60*time.Second),
			MaxConcurrency:    getEnvAsInt("AUDIT_MAX_CONCURRENCY", 4),
			CredentialTimeout: getEnvAsDuration("AUDIT_CREDENTIAL_TIMEOUT", 5*time.Second),
			MaxControls:       getEnvAsInt("AUDIT_MAX_CONTROLS", 100),
		},
		Cloud: CloudConfig{
			AWS: AWSConfig{
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Region:          getEnv("AWS_REGION", getEnv("AWS_DEFAULT_REGION", "us-east-1")),
			},
			Azure: AzureConfig{
				TenantID:       getEnv("AZURE_TENANT_ID", ""),
				ClientID:       getEnv("AZURE_CLIENT_ID", ""),
				ClientSecret:   getEnv("AZURE_CLIENT_SECRET", ""),
				SubscriptionID: getEnv("AZURE_SUBSCRIPTION_ID", ""),
			},
			GCP: GCPConfig{
				ServiceAccountFile: getEnv("GCP_SERVICE_ACCOUNT_FILE", ""),
				ServiceAccountJSON: getEnv("GCP_SERVICE_ACCOUNT_JSON", ""),
				ProjectID:          getEnv("GCP_PROJECT_ID", ""),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.ConnectionString == "" && c.Database.Host != "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() && !c.Auth.Enabled() {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
	}

	if c.Audit.ControlTimeout <= 0 {
		return fmt.Errorf("audit control timeout must be positive")
	}
	if c.Audit.MaxControls <= 0 {
		return fmt.Errorf("audit max controls must be positive")
	}

	aws := c.Cloud.AWS
	if (aws.AccessKeyID == "") != (aws.SecretAccessKey == "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	az := c.Cloud.Azure
	set := 0
	for _, v := range []string{az.TenantID, az.ClientID, az.ClientSecret, az.SubscriptionID} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 4 {
		return fmt.Errorf("AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_SUBSCRIPTION_ID must be set together")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether token verification is configured
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// Issuer returns the expected token issuer, or "" to skip the check
func (c *AuthConfig) Issuer() string {
	if c.SupabaseURL == "" {
		return ""
	}
	return c.SupabaseURL + "/auth/v1"
}

// Enabled reports whether a credential store is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil && u.Host != "" {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "postgres")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "postgres")
	pool.SSLMode = getEnv("DB_SSLMODE", "require")
	return pool
}

// EnvironmentCredentials builds the fallback bundles. Providers with nothing
// configured are left nil.
func (c *CloudConfig) EnvironmentCredentials() (*models.StoredCredentials, error) {
	env := &models.StoredCredentials{}

	if c.AWS.AccessKeyID != "" {
		env.AWS = &models.AWSCredentials{
			AccessKeyID:     c.AWS.AccessKeyID,
			SecretAccessKey: c.AWS.SecretAccessKey,
			Region:          c.AWS.Region,
		}
	}

	if c.Azure.TenantID != "" {
		env.Azure = &models.AzureCredentials{
			TenantID:       c.Azure.TenantID,
			ClientID:       c.Azure.ClientID,
			ClientSecret:   c.Azure.ClientSecret,
			SubscriptionID: c.Azure.SubscriptionID,
		}
	}

	raw := []byte(c.GCP.ServiceAccountJSON)
	if len(raw) == 0 && c.GCP.ServiceAccountFile != "" {
		data, err := os.ReadFile(c.GCP.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read GCP service account file: %w", err)
		}
		raw = data
	}
	if len(raw) > 0 {
		gcp, err := models.ParseGCPCredentials(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid GCP service account: %w", err)
		}
		if c.GCP.ProjectID != "" {
			gcp.ProjectID = c.GCP.ProjectID
		}
		env.GCP = gcp
	}

	return env, nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RequestTimeout bounds request handling. It ends before the connection
// write deadline so a cancelled audit can still deliver its results.
func (c *ServerConfig) RequestTimeout() time.Duration {
	wt := c.WriteTimeout
	if wt <= 0 {
		return defaultRequestTimeout
	}
	margin := responseMargin
	if margin > wt/2 {
		margin = wt / 2
	}
	return wt - margin
}

// WorstCase is the longest a full-size audit can take when every control
// runs into its timeout.
func (c *AuditConfig) WorstCase() time.Duration {
	if c.MaxControls <= 0 {
		return c.CredentialTimeout
	}
	workers := c.MaxConcurrency
	if workers < 1 {
		workers = 1
	}
	waves := (c.MaxControls + workers - 1) / workers
	return c.CredentialTimeout + time.Duration(waves)*c.ControlTimeout
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
