package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeployConfig holds the process-wide settings used to build and run orchestration commands.
type DeployConfig struct {
	Debug            bool
	DryRun           bool
	DefaultNamespace string
	HelmCommand      []string
	CommandTimeout   time.Duration
	Controller       string
	BillingPolicy    string
	Runner           string
	RunnerContainer  string
	DockerHost       string
}

// ObjectStoreConfig configures the S3 compatible bucket receiving service backups.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DatabaseURL        string
	MigrationsDir      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LockTTL            time.Duration
	TransitionRateMin  int
	KubeConfig         string
	ClusterInspection  bool
	HealthCheckTimeout time.Duration
	Deploy             DeployConfig
	ObjectStore        ObjectStoreConfig
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":8000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://usop:usop@db:5432/usop?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		RedisAddr:          GetString("REDIS_ADDR", ""),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		LockTTL:            GetSeconds("LOCK_TTL_SECONDS", 30),
		TransitionRateMin:  GetInt("TRANSITION_RATE_PER_MINUTE", 30),
		KubeConfig:         GetString("KUBECONFIG", ""),
		ClusterInspection:  GetBool("CLUSTER_INSPECTION", false),
		HealthCheckTimeout: GetSeconds("HEALTH_CHECK_TIMEOUT_SECONDS", 2),
		Deploy:             LoadDeployConfig(),
		ObjectStore: ObjectStoreConfig{
			Endpoint:  GetString("BACKUP_S3_ENDPOINT", ""),
			AccessKey: GetString("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: GetString("BACKUP_S3_SECRET_KEY", ""),
			Region:    GetString("BACKUP_S3_REGION", "us-east-1"),
			Bucket:    GetString("BACKUP_S3_BUCKET", "usop-backups"),
			UseSSL:    GetBool("BACKUP_S3_USE_SSL", false),
		},
	}
}

// LoadDeployConfig reads the orchestration settings. It is loaded once at process start.
func LoadDeployConfig() DeployConfig {
	return DeployConfig{
		Debug:            GetBool("DEBUG", false),
		DryRun:           GetBool("DRY_RUN", false),
		DefaultNamespace: GetString("DEFAULT_NAMESPACE", "usop-default"),
		HelmCommand:      GetFields("HELM_COMMAND", "helm"),
		CommandTimeout:   GetSeconds("HELM_TIMEOUT_SECONDS", 600),
		Controller:       GetString("SERVICE_CONTROLLER", "helm"),
		BillingPolicy:    GetString("BILLING_POLICY", "allow-all"),
		Runner:           GetString("COMMAND_RUNNER", "exec"),
		RunnerContainer:  GetString("COMMAND_RUNNER_CONTAINER", ""),
		DockerHost:       GetString("DOCKER_HOST", ""),
	}
}

// Enabled reports whether backups have somewhere to go.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate checks the object store settings before a client is built.
func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
