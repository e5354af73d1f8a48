package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/overlab/overlab/internal/bibtex"
	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
	"github.com/overlab/overlab/pkg/metrics"
)

const bibtexContentType = "application/x-bibtex; charset=utf-8"

// SnapshotStore archives served bibliographies. Optional.
type SnapshotStore interface {
	Store(ctx context.Context, name string, data []byte) error
}

// Server serves one user's library. The credential is fixed at startup; the
// lifecycle manager recreates the whole instance to change it.
type Server struct {
	client    *zotero.Client
	creds     zotero.Credentials
	cache     CollectionCache
	inclusion string // "all" | "only-self"
	snapshots SnapshotStore
}

// NewServer builds a proxy server. snapshots may be nil.
func NewServer(client *zotero.Client, creds zotero.Credentials, cache CollectionCache, inclusion string, snapshots SnapshotStore) *Server {
	if cache == nil {
		cache = NewMemoryCollectionCache(5 * time.Minute)
	}
	if inclusion != "only-self" {
		inclusion = "all"
	}
	return &Server{client: client, creds: creds, cache: cache, inclusion: inclusion, snapshots: snapshots}
}

// Routes registers the proxy endpoints on the engine. Collection paths can be
// arbitrarily nested, so fetches are dispatched from the NoRoute handler
// rather than a catch-all route; explicit routes like /healthz and /metrics
// keep working alongside.
func (s *Server) Routes(r *gin.Engine) {
	// "healthz" and "metrics" are reserved: a collection carrying one of
	// those literal names is shadowed by the explicit route
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodHead:
			// the editor probes linked files with HEAD before fetching
			c.Header("Content-Type", bibtexContentType)
			c.Status(http.StatusOK)
		case http.MethodGet:
			s.handleFetch(c)
		default:
			c.Status(http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) handleFetch(c *gin.Context) {
	collectionPath := strings.Trim(c.Request.URL.Path, "/")

	body, itemCount, err := s.bibliography(c.Request.Context(), collectionPath)
	if err != nil {
		switch {
		case errors.Is(err, zotero.ErrCollectionNotFound):
			metrics.ProxyFetches.WithLabelValues("not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("collection %q not found", collectionPath)})
		default:
			metrics.ProxyFetches.WithLabelValues("upstream_error").Inc()
			logger.Errorf("proxy: fetch %q: %v", collectionPath, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed"})
		}
		return
	}

	if c.Query("remove_comments") != "true" {
		body = s.commentHeader(collectionPath, itemCount) + body
	}

	if s.snapshots != nil {
		name := "library"
		if collectionPath != "" {
			name = strings.ReplaceAll(collectionPath, "/", "_")
		}
		if err := s.snapshots.Store(c.Request.Context(), name, []byte(body)); err != nil {
			logger.Warnf("proxy: snapshot failed: %v", err)
		}
	}

	metrics.ProxyFetches.WithLabelValues("ok").Inc()
	c.Data(http.StatusOK, bibtexContentType, []byte(body))
}

// bibliography resolves the collection path and renders its items, including
// sub-collections unless the inclusion strategy is only-self. An empty path
// serves the whole library.
func (s *Server) bibliography(ctx context.Context, collectionPath string) (string, int, error) {
	var keys []string
	if collectionPath == "" {
		keys = []string{""}
	} else {
		paths, err := s.resolve(ctx, collectionPath)
		if err != nil {
			return "", 0, err
		}
		key, ok := paths[collectionPath]
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", zotero.ErrCollectionNotFound, collectionPath)
		}
		keys = []string{key}
		if s.inclusion == "all" {
			for _, child := range zotero.ChildPaths(paths, collectionPath) {
				keys = append(keys, child[1])
			}
		}
	}

	var items []zotero.Item
	for _, key := range keys {
		page, err := s.client.Items(ctx, s.creds, key)
		if err != nil {
			return "", 0, err
		}
		items = append(items, page...)
	}
	bibtex.SortItems(items)
	return bibtex.Dedupe(bibtex.Render(items)), len(items), nil
}

// resolve returns the path mapping, refreshing from the remote when the cache
// misses or when the requested path is not in the cached mapping (a freshly
// created collection).
func (s *Server) resolve(ctx context.Context, collectionPath string) (map[string]string, error) {
	paths, ok, err := s.cache.Get(ctx)
	if err != nil {
		logger.Warnf("proxy: collection cache read failed: %v", err)
	}
	if ok {
		if _, found := paths[collectionPath]; found {
			return paths, nil
		}
	}

	paths, err = s.client.Collections(ctx, s.creds)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, paths); err != nil {
		logger.Warnf("proxy: collection cache write failed: %v", err)
	}
	return paths, nil
}

func (s *Server) commentHeader(collectionPath string, itemCount int) string {
	scope := "library"
	if collectionPath != "" {
		scope = "collection " + collectionPath
	}
	return fmt.Sprintf("%% Bibliography for Zotero %s (user %s)\n%% %d items, generated %s\n%% Append ?remove_comments=true to omit this header\n\n",
		scope, s.creds.OwnerID, itemCount, time.Now().UTC().Format(time.RFC3339))
}
