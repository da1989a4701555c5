// Package data proxies GraphQL operations to the upstream database API.
// Only whitelisted operations are forwarded, and only when the gate allows
// the caller to run them.
package data

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/logging"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/whitelist"
)

// Upstream headers.
const (
	HeaderAdminSecret = "X-Hasura-Admin-Secret"
	HeaderUserID      = "X-Hasura-User-Id"
	HeaderRole        = "X-Hasura-Role"
	HeaderGroups      = "X-Hasura-User-Groups"
)

// Upstream roles.
const (
	RoleAnonymous = "anonymous"
	RoleUser      = "user"
	RoleServer    = "server"
)

// Handler handles the /data routes
type Handler struct {
	graphqlURL string
	secret     string
	whitelist  *whitelist.Whitelist
	gate       *gate.Gate
	client     *http.Client
}

// NewHandler creates a new data handler
func NewHandler(graphqlURL, secret string, wl *whitelist.Whitelist, g *gate.Gate, client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handler{graphqlURL: graphqlURL, secret: secret, whitelist: wl, gate: g, client: client}
}

// QueryRequest is the body of POST /data
type QueryRequest struct {
	Query     string         `json:"query" binding:"required"`
	Variables map[string]any `json:"variables"`
}

type upstreamRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// RegisterRoutes registers the client route behind user and the server
// route behind server.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, user, server gin.HandlerFunc) {
	r.POST("", user, h.ClientQuery)
	r.POST("/server", server, h.ServerQuery)
}

// ClientQuery handles POST /data for browsers.
func (h *Handler) ClientQuery(c *gin.Context) {
	h.execute(c, gate.Client, guards.CurrentUser(c))
}

// ServerQuery handles POST /data/server for trusted services.
func (h *Handler) ServerQuery(c *gin.Context) {
	h.execute(c, gate.Server, nil)
}

func (h *Handler) execute(c *gin.Context, ns gate.Namespace, user *models.User) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("body must contain a query", nil))
		return
	}

	name, query, ok := h.whitelist.Resolve(ns, req.Query)
	if !ok {
		apperrors.Respond(c, apperrors.BadRequest("query is not whitelisted", map[string]any{
			"namespace": ns,
			"query":     req.Query,
		}))
		return
	}

	if !h.gate.IsAllowed(ns, name, user, req.Variables) {
		ctx := map[string]any{"namespace": ns, "operation": name}
		if user != nil {
			ctx["user_id"] = user.ID
		}
		apperrors.Respond(c, apperrors.Forbidden("not allowed to run this query", ctx))
		return
	}

	body, err := json.Marshal(upstreamRequest{OperationName: name, Query: query, Variables: req.Variables})
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to encode query", err, map[string]any{"operation": name}))
		return
	}

	upstream, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, h.graphqlURL, bytes.NewReader(body))
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to build upstream request", err, nil))
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set(HeaderAdminSecret, h.secret)
	setRoleHeaders(upstream.Header, ns, user)

	resp, err := h.client.Do(upstream)
	if err != nil {
		apperrors.Respond(c, apperrors.External("graphql upstream unreachable", err, map[string]any{"operation": name}))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apperrors.Respond(c, apperrors.External("graphql upstream failed", nil, map[string]any{
			"operation": name,
			"status":    resp.StatusCode,
			"body":      string(detail),
		}))
		return
	}

	log.Debug().
		Str("request_id", logging.RequestID(c)).
		Str("namespace", string(ns)).
		Str("operation", name).
		Int("status", resp.StatusCode).
		Msg("graphql query forwarded")

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, nil)
}

func setRoleHeaders(header http.Header, ns gate.Namespace, user *models.User) {
	switch {
	case ns == gate.Server:
		header.Set(HeaderRole, RoleServer)
	case user == nil:
		header.Set(HeaderRole, RoleAnonymous)
	default:
		header.Set(HeaderRole, RoleUser)
		header.Set(HeaderUserID, strconv.FormatUint(uint64(user.ID), 10))
		groups, _ := json.Marshal(user.GroupKeys())
		header.Set(HeaderGroups, string(groups))
	}
}
