package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the identity service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, swaggerJSON)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>driftnote-identity — Swagger</title>
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

// Minimal OpenAPI document describing the identity endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "driftnote-identity", "version": "v0.1.0" },
  "paths": {
    "/identity/me": {
      "get": { "summary": "Resolve caller identity, provisioning an anonymous record when absent", "responses": { "200": { "description": "identity record plus linked flag" } } }
    },
    "/identity/link": {
      "post": {
        "summary": "Link the anonymous identity to a verified provider identity",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"idToken":{"type":"string"}}}}}},
        "responses": { "200": { "description": "linked record with session and access tokens" }, "401": { "description": "invalid id token" }, "409": { "description": "linking conflict" } }
      }
    },
    "/identity/logout": {
      "post": { "summary": "End the session, revoke the access token and clear the anonymous cookie", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"accessToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
