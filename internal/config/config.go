package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr       = ":8080"
	defaultMetricsAddr    = ":9090"
	defaultKeyID          = "k1"
	defaultSyncSchedule   = "*/5 * * * *"
	defaultHealthSchedule = "*/10 * * * *"
	defaultHealthWorkers  = 4
	defaultAdapterTimeout = 30 * time.Second
	defaultVaultMount     = "secret"
	defaultVaultPrefix    = "lexdesk/integrations"
	defaultArchivePrefix  = "signed/"
)

// Credential backends.
const (
	CredentialBackendPostgres = "postgres"
	CredentialBackendVault    = "vault"
)

type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	MetricsAddr  string
	APITokenHash string

	CredentialsSecret       string
	CredentialsKeyID        string
	CredentialsPreviousKeys string
	CredentialBackend       string

	Vault   VaultConfig
	Archive ArchiveConfig

	SyncSchedule       string
	HealthSchedule     string
	HealthWorkers      int
	AdapterHTTPTimeout time.Duration
}

// VaultConfig locates the KV v2 mount holding credentials when CREDENTIAL_BACKEND=vault.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	Mount     string
	Prefix    string
}

// ArchiveConfig points at the S3 bucket for signed documents. An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether a bucket is configured.
func (a ArchiveConfig) Enabled() bool { return strings.TrimSpace(a.Bucket) != "" }

type LoadOptions struct {
	RequireDatabaseURL bool
	RequireSecret      bool
}

// Load reads the configuration needed by `lexdesk serve`.
func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireSecret: true})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:             getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		APITokenHash:            strings.TrimSpace(os.Getenv("API_TOKEN_HASH")),
		CredentialsSecret:       os.Getenv("CREDENTIALS_SECRET"),
		CredentialsKeyID:        getenvDefault("CREDENTIALS_KEY_ID", defaultKeyID),
		CredentialsPreviousKeys: os.Getenv("CREDENTIALS_PREVIOUS_KEYS"),
		CredentialBackend:       strings.ToLower(getenvDefault("CREDENTIAL_BACKEND", CredentialBackendPostgres)),
		Vault: VaultConfig{
			Address:   os.Getenv("VAULT_ADDR"),
			Token:     os.Getenv("VAULT_TOKEN"),
			Namespace: os.Getenv("VAULT_NAMESPACE"),
			Mount:     getenvDefault("VAULT_KV_MOUNT", defaultVaultMount),
			Prefix:    getenvDefault("VAULT_KV_PREFIX", defaultVaultPrefix),
		},
		Archive: ArchiveConfig{
			Bucket:          strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")),
			Region:          os.Getenv("ARCHIVE_S3_REGION"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			Prefix:          getenvDefault("ARCHIVE_S3_PREFIX", defaultArchivePrefix),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		SyncSchedule:       getenvDefault("SYNC_SCHEDULE", defaultSyncSchedule),
		HealthSchedule:     getenvDefault("HEALTH_SCHEDULE", defaultHealthSchedule),
		HealthWorkers:      getenvIntDefault("HEALTH_WORKERS", defaultHealthWorkers),
		AdapterHTTPTimeout: defaultAdapterTimeout,
	}

	if v := os.Getenv("ADAPTER_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AdapterHTTPTimeout = d
		}
	}

	switch cfg.CredentialBackend {
	case CredentialBackendPostgres:
	case CredentialBackendVault:
		if strings.TrimSpace(cfg.Vault.Address) == "" {
			return cfg, errors.New("VAULT_ADDR is required when CREDENTIAL_BACKEND=vault")
		}
	default:
		return cfg, fmt.Errorf("CREDENTIAL_BACKEND must be one of: %s, %s", CredentialBackendPostgres, CredentialBackendVault)
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if opts.RequireSecret && strings.TrimSpace(cfg.CredentialsSecret) == "" {
		return cfg, errors.New("CREDENTIALS_SECRET is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
