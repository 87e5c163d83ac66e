package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/pkg/errors"
)

// ResourceService is the part of services.ResourceService the handler depends on
type ResourceService interface {
	Get(ctx context.Context, path string, query url.Values) (any, error)
	Post(ctx context.Context, path string, body map[string]any) (string, error)
	Put(ctx context.Context, path string, body map[string]any) error
	Patch(ctx context.Context, path string, patch []byte) (bool, error)
	Delete(ctx context.Context, path string) error
}

// ResourceHandler serves every URI below the configured prefix
type ResourceHandler struct {
	svc    ResourceService
	prefix string
	logger *zap.SugaredLogger
}

// NewResourceHandler creates a new ResourceHandler
func NewResourceHandler(svc ResourceService, prefix string, logger *zap.SugaredLogger) *ResourceHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ResourceHandler{svc: svc, prefix: strings.TrimRight(prefix, "/"), logger: logger}
}

// Handle dispatches on the request method. The path handed to the service is
// the escaped form so index values containing '/' stay one segment.
func (h *ResourceHandler) Handle(c *gin.Context) {
	path := strings.TrimPrefix(c.Request.URL.EscapedPath(), h.prefix)
	switch c.Request.Method {
	case http.MethodGet:
		h.get(c, path)
	case http.MethodPost:
		h.post(c, path)
	case http.MethodPut:
		h.put(c, path)
	case http.MethodPatch:
		h.patch(c, path)
	case http.MethodDelete:
		h.delete(c, path)
	default:
		RespondAppError(c, h.logger, errors.NewMethodNotAllowedError(c.Request.Method, strings.TrimPrefix(path, "/")))
	}
}

func (h *ResourceHandler) get(c *gin.Context, path string) {
	result, err := h.svc.Get(c.Request.Context(), path, c.Request.URL.Query())
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ResourceHandler) post(c *gin.Context, path string) {
	body, ok := h.bindObject(c)
	if !ok {
		return
	}
	uri, err := h.svc.Post(c.Request.Context(), path, body)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.Header("Location", uri)
	c.Status(http.StatusCreated)
}

func (h *ResourceHandler) put(c *gin.Context, path string) {
	body, ok := h.bindObject(c)
	if !ok {
		return
	}
	if err := h.svc.Put(c.Request.Context(), path, body); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *ResourceHandler) patch(c *gin.Context, path string) {
	data, err := readBody(c)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	changed, err := h.svc.Patch(c.Request.Context(), path, data)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	if !changed {
		h.logger.Debugw("Patch left row unchanged", "path", path)
	}
	c.Status(http.StatusNoContent)
}

func (h *ResourceHandler) delete(c *gin.Context, path string) {
	if err := h.svc.Delete(c.Request.Context(), path); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ResourceHandler) bindObject(c *gin.Context) (map[string]any, bool) {
	data, err := readBody(c)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return nil, false
	}
	body, err := decodeObject(data)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return nil, false
	}
	return body, true
}
