package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overlab/overlab/internal/config"
	"github.com/overlab/overlab/internal/lifecycle"
	"github.com/overlab/overlab/internal/models"
	"github.com/overlab/overlab/internal/provision"
	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
)

// CreateProxyRequest registers a proxy for a user
type CreateProxyRequest struct {
	Username    string `json:"username" binding:"required"`
	OwnerID     string `json:"owner_id" binding:"required"`
	APIKey      string `json:"api_key" binding:"required"`
	DisplayName string `json:"display_name"`
}

// RotateCredentialsRequest replaces a proxy's credential
type RotateCredentialsRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	APIKey  string `json:"api_key" binding:"required"`
}

// BindingsHandler exposes the lifecycle manager over the admin API.
type BindingsHandler struct {
	cfg     *config.Config
	manager *lifecycle.Manager
}

func NewBindingsHandler(cfg *config.Config, m *lifecycle.Manager) *BindingsHandler {
	return &BindingsHandler{cfg: cfg, manager: m}
}

// Register routes under the authenticated admin group.
func (h *BindingsHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/proxies")
	p.GET("", h.List)
	p.POST("", h.Create)
	p.GET("/:username", h.Get)
	p.PUT("/:username/credentials", h.Rotate)
	p.DELETE("/:username", h.Remove)
	p.POST("/reconcile", h.Reconcile)

	s := rg.Group("/system")
	s.GET("/status", h.SystemStatus)
	s.GET("/allowlist", h.Allowlist)
}

// RegisterSignup exposes self-service registration when enabled. The route is
// unauthenticated; the Zotero credential itself is the proof of ownership.
func (h *BindingsHandler) RegisterSignup(rg *gin.RouterGroup) {
	rg.POST("/signup/proxies", func(c *gin.Context) {
		if !h.cfg.Signup.EnablePublic {
			c.JSON(http.StatusForbidden, gin.H{"error": "public signup is disabled"})
			return
		}
		h.Create(c)
	})
}

func (h *BindingsHandler) List(c *gin.Context) {
	bindings, err := h.manager.List(c.Request.Context())
	if err != nil {
		logger.Errorf("api: list bindings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxies": bindings, "count": len(bindings)})
}

func (h *BindingsHandler) Create(c *gin.Context) {
	var req CreateProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	binding, err := h.manager.Create(c.Request.Context(), lifecycle.CreateRequest{
		Username:    req.Username,
		OwnerID:     req.OwnerID,
		APIKey:      req.APIKey,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, binding)
}

func (h *BindingsHandler) Get(c *gin.Context) {
	binding, err := h.manager.Status(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"proxy":    binding,
		"instance": provision.InstanceName(binding.Username),
		"url":      instanceURL(h.cfg, binding),
	})
}

func (h *BindingsHandler) Rotate(c *gin.Context) {
	var req RotateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	binding, err := h.manager.RotateCredential(c.Request.Context(), c.Param("username"), req.APIKey, req.OwnerID)
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, binding)
}

func (h *BindingsHandler) Remove(c *gin.Context) {
	if err := h.manager.Remove(c.Request.Context(), c.Param("username")); err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BindingsHandler) Reconcile(c *gin.Context) {
	report, err := h.manager.Reconcile(c.Request.Context())
	if err != nil {
		logger.Errorf("api: reconcile: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// SystemStatus reports binding counts per state.
func (h *BindingsHandler) SystemStatus(c *gin.Context) {
	bindings, err := h.manager.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	counts := map[models.BindingStatus]int{}
	for _, b := range bindings {
		counts[b.Status]++
	}
	c.JSON(http.StatusOK, gin.H{
		"total":   len(bindings),
		"pending": counts[models.StatusPending],
		"active":  counts[models.StatusActive],
		"failed":  counts[models.StatusFailed],
		"removed": counts[models.StatusRemoved],
	})
}

// Allowlist returns the in-network hostnames the editor may fetch from, one
// per live binding, plus the naming rule for firewall configuration.
func (h *BindingsHandler) Allowlist(c *gin.Context) {
	bindings, err := h.manager.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	hosts := []string{}
	for _, b := range bindings {
		if b.Live() {
			hosts = append(hosts, provision.InstanceName(b.Username))
		}
	}
	c.JSON(http.StatusOK, gin.H{"pattern": "proxy-<username>", "hosts": hosts})
}

func instanceURL(cfg *config.Config, b *models.Binding) string {
	if !b.Live() {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", provision.InstanceName(b.Username), cfg.Provision.ProxyPort)
}

// writeLifecycleError maps lifecycle and validation errors onto HTTP status
// codes: conflicts are 409, rejected credentials 422, transient upstream
// trouble 503, provisioning deadlines 504.
func writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrDuplicateUser):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, zotero.ErrInvalidCredential):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, zotero.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrProvisionTimeout), errors.Is(err, lifecycle.ErrTeardownTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		logger.Errorf("api: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
