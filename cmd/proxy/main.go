package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/overlab/overlab/internal/config"
	"github.com/overlab/overlab/internal/proxy"
	"github.com/overlab/overlab/internal/snapshots"
	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
	"github.com/overlab/overlab/pkg/metrics"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadProxyConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Collection cache: shared via Redis when configured, in-process otherwise
	var cache proxy.CollectionCache
	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warnf("cannot connect to Redis (%v) — using in-memory collection cache", err)
		} else {
			cache = proxy.NewRedisCollectionCache(client, cfg.OwnerID, 5*time.Minute)
			logger.Infof("Using Redis collection cache at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}
	if cache == nil {
		cache = proxy.NewMemoryCollectionCache(5 * time.Minute)
	}

	// Optional snapshot archive
	var store proxy.SnapshotStore
	if cfg.Snapshot.Endpoint != "" {
		s, err := snapshots.NewMinioStore(context.Background(), cfg.Snapshot, cfg.OwnerID)
		if err != nil {
			logger.Warnf("snapshot store unavailable: %v", err)
		} else {
			store = s
			logger.Infof("Archiving served bibliographies to bucket %s", cfg.Snapshot.Bucket)
		}
	}

	client := zotero.NewClient(cfg.BaseURL, cfg.Timeout)
	creds := zotero.Credentials{APIKey: cfg.APIKey, OwnerID: cfg.OwnerID}
	srv := proxy.NewServer(client, creds, cache, cfg.InclusionStrategy, store)
	srv.Routes(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Infof("worker proxy for user %s listening on :%s (strategy=%s)", cfg.OwnerID, cfg.Port, cfg.InclusionStrategy)
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
