package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the manager service configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Zotero    ZoteroConfig
	Admin     AdminConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Provision ProvisionConfig
	Snapshot  SnapshotConfig
	RateLimit RateLimitConfig
	Signup    SignupConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ZoteroConfig points the credential validator at the remote bibliography API.
type ZoteroConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AdminConfig carries the panel's admin credentials.
type AdminConfig struct {
	Username string
	Password string
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// OIDCConfig enables SSO login for the admin panel when an issuer is set.
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

// ProvisionConfig describes the compose substrate proxy instances run on.
type ProvisionConfig struct {
	ComposeDir        string
	Image             string
	Network           string
	ProxyPort         int
	ProvisionTimeout  time.Duration
	TeardownTimeout   time.Duration
	ReconcileSchedule string
}

// SnapshotConfig configures the optional MinIO bibliography archive.
type SnapshotConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type SignupConfig struct {
	EnablePublic bool
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5000")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "overlab")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("ZOTERO_API_URL", "https://api.zotero.org")
	viper.SetDefault("ZOTERO_TIMEOUT", 15)
	viper.SetDefault("ADMIN_USERNAME", "admin")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)
	viper.SetDefault("PROXY_COMPOSE_DIR", "./zotero-proxies")
	viper.SetDefault("PROXY_IMAGE", "overlab-zotero-proxy:latest")
	viper.SetDefault("PROXY_NETWORK", "overleaf_default")
	viper.SetDefault("PROXY_PORT", 5000)
	viper.SetDefault("PROVISION_TIMEOUT", 45)
	viper.SetDefault("TEARDOWN_TIMEOUT", 30)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	viper.SetDefault("RATE_LIMIT_RPS", 5.0)
	viper.SetDefault("RATE_LIMIT_BURST", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("MINIO_BUCKET", "bibliography-snapshots")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      getEnvOrPanic("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		Zotero: ZoteroConfig{
			BaseURL: viper.GetString("ZOTERO_API_URL"),
			Timeout: time.Duration(viper.GetInt("ZOTERO_TIMEOUT")) * time.Second,
		},
		Admin: AdminConfig{
			Username: viper.GetString("ADMIN_USERNAME"),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		OIDC: OIDCConfig{
			IssuerURL: viper.GetString("OIDC_ISSUER_URL"),
			ClientID:  viper.GetString("OIDC_CLIENT_ID"),
		},
		Provision: ProvisionConfig{
			ComposeDir:        viper.GetString("PROXY_COMPOSE_DIR"),
			Image:             viper.GetString("PROXY_IMAGE"),
			Network:           viper.GetString("PROXY_NETWORK"),
			ProxyPort:         viper.GetInt("PROXY_PORT"),
			ProvisionTimeout:  time.Duration(viper.GetInt("PROVISION_TIMEOUT")) * time.Second,
			TeardownTimeout:   time.Duration(viper.GetInt("TEARDOWN_TIMEOUT")) * time.Second,
			ReconcileSchedule: viper.GetString("RECONCILE_SCHEDULE"),
		},
		Snapshot: SnapshotConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Signup: SignupConfig{
			EnablePublic: viper.GetBool("ENABLE_PUBLIC_SIGNUP"),
		},
	}

	// Basic validation
	if cfg.JWT.Secret == "" {
		log.Println("WARNING: JWT_SECRET is not set; set a secure value in production")
	}
	if cfg.Admin.Password == "" {
		log.Println("WARNING: ADMIN_PASSWORD is not set; admin login is disabled until it is")
	}

	return cfg, nil
}

func getEnvOrPanic(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("environment variable %s is required", key)
	}
	return v
}
