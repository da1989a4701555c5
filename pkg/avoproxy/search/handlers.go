// Package search forwards search requests of logged in users to the search
// backend.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
)

// maxBodySize bounds the request body accepted from the browser.
const maxBodySize = 1 << 20

// TokenSource supplies the bearer token of the search backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Handler handles POST /search
type Handler struct {
	url    string
	index  string
	tokens TokenSource
	client *http.Client
}

// NewHandler creates a search handler. tokens may be nil when the backend
// needs no authentication.
func NewHandler(url, index string, tokens TokenSource, client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Handler{url: url, index: index, tokens: tokens, client: client}
}

// RegisterRoutes registers the search route behind guard.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, guard gin.HandlerFunc) {
	r.POST("", guard, h.Search)
}

// Search handles POST /search
func (h *Handler) Search(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("failed to read body", nil))
		return
	}
	if len(raw) > maxBodySize {
		apperrors.Respond(c, apperrors.BadRequest("search request is too large", nil))
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("search request must be a JSON object", nil))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, h.url+"/"+h.index+"/_search", bytes.NewReader(raw))
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to build search request", err, nil))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if h.tokens != nil {
		token, err := h.tokens.Token(c.Request.Context())
		if err != nil {
			apperrors.Respond(c, apperrors.External("failed to get search token", err, nil))
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		apperrors.Respond(c, apperrors.External("search backend unreachable", err, nil))
		return
	}
	defer resp.Body.Close()

	ctx := map[string]any{"status": resp.StatusCode, "index": h.index}
	if user := guards.CurrentUser(c); user != nil {
		ctx["user_id"] = user.ID
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if h.tokens != nil {
			h.tokens.Invalidate()
		}
		apperrors.Respond(c, apperrors.External("search backend rejected credentials", nil, ctx))
		return
	case resp.StatusCode >= http.StatusInternalServerError:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ctx["body"] = string(detail)
		apperrors.Respond(c, apperrors.External("search backend failed", nil, ctx))
		return
	}

	log.Debug().Fields(ctx).Msg("search forwarded")
	c.DataFromReader(resp.StatusCode, resp.ContentLength, "application/json", resp.Body, nil)
}
