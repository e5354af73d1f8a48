package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the manager.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Header("Content-Type", "application/json")
		c.String(http.StatusOK, swaggerJSON)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>overlab-manager — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "overlab-manager", "version": "v0.1.0" },
  "paths": {
    "/auth/login": {
      "post": { "summary": "Admin login", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"username":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "200": { "description": "tokens returned" }, "401": { "description": "authentication failed" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Refresh access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "new access token" }, "401": { "description": "invalid refresh" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Logout and invalidate tokens", "responses": { "200": { "description": "logged out" } } }
    },
    "/api/proxies": {
      "get": { "summary": "List proxy bindings", "responses": { "200": { "description": "bindings" } } },
      "post": { "summary": "Register a user proxy", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"username":{"type":"string"},"owner_id":{"type":"string"},"api_key":{"type":"string"},"display_name":{"type":"string"}}}}}}, "responses": { "201": { "description": "binding active" }, "409": { "description": "duplicate user" }, "422": { "description": "invalid credential" }, "503": { "description": "upstream unavailable" }, "504": { "description": "provisioning timed out" } } }
    },
    "/api/proxies/{username}": {
      "get": { "summary": "Binding status", "responses": { "200": { "description": "binding" }, "404": { "description": "unknown user" } } },
      "delete": { "summary": "Remove a user proxy", "responses": { "204": { "description": "removed" }, "404": { "description": "unknown user" } } }
    },
    "/api/proxies/{username}/credentials": {
      "put": { "summary": "Rotate credentials", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"owner_id":{"type":"string"},"api_key":{"type":"string"}}}}}}, "responses": { "200": { "description": "rotated" }, "422": { "description": "invalid credential" } } }
    },
    "/api/proxies/reconcile": {
      "post": { "summary": "Run a reconciliation sweep", "responses": { "200": { "description": "sweep report" } } }
    },
    "/api/system/status": {
      "get": { "summary": "Binding counts per state", "responses": { "200": { "description": "counts" } } }
    },
    "/api/system/allowlist": {
      "get": { "summary": "Editor outbound allow-list", "responses": { "200": { "description": "hosts" } } }
    }
  }
}`
