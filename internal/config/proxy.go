package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ProxyConfig is the per-instance configuration for the worker proxy. The
// lifecycle manager injects ZOTERO_USER and ZOTERO_KEY into the instance
// environment; everything else has sane defaults.
type ProxyConfig struct {
	Port              string
	OwnerID           string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	InclusionStrategy string // "all" | "only-self"
	Redis             RedisConfig
	Snapshot          SnapshotConfig
}

// LoadProxyConfig loads the worker proxy configuration from the environment.
func LoadProxyConfig() (*ProxyConfig, error) {
	viper.AutomaticEnv()

	viper.SetDefault("PROXY_PORT", "5000")
	viper.SetDefault("ZOTERO_API_URL", "https://api.zotero.org")
	viper.SetDefault("ZOTERO_TIMEOUT", 15)
	viper.SetDefault("ZOTERO_INCLUSION_STRATEGY", "all")
	viper.SetDefault("MINIO_BUCKET", "bibliography-snapshots")

	cfg := &ProxyConfig{
		Port:              viper.GetString("PROXY_PORT"),
		OwnerID:           viper.GetString("ZOTERO_USER"),
		APIKey:            viper.GetString("ZOTERO_KEY"),
		BaseURL:           viper.GetString("ZOTERO_API_URL"),
		Timeout:           time.Duration(viper.GetInt("ZOTERO_TIMEOUT")) * time.Second,
		InclusionStrategy: viper.GetString("ZOTERO_INCLUSION_STRATEGY"),
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
		},
		Snapshot: SnapshotConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: viper.GetString("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
	}

	if cfg.OwnerID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("ZOTERO_USER and ZOTERO_KEY are required")
	}
	return cfg, nil
}
