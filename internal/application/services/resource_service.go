package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ovsrestd/backend/internal/domain/resource"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// ResourceService is the entry point of the REST boundary: it waits for the
// replica session, resolves the path and dispatches to the Reader or Engine
type ResourceService struct {
	conn     *ConnectionManager
	resolver *Resolver
	reader   *Reader
	engine   *Engine
}

// NewResourceService creates a new ResourceService
func NewResourceService(conn *ConnectionManager, resolver *Resolver, reader *Reader, engine *Engine) *ResourceService {
	return &ResourceService{conn: conn, resolver: resolver, reader: reader, engine: engine}
}

// Resolve maps an escaped path below the URI prefix to a resource chain
func (s *ResourceService) Resolve(ctx context.Context, method, path string) (*resource.Resource, error) {
	if err := s.conn.WaitReady(ctx); err != nil {
		return nil, err
	}
	segs, err := resource.Split(path)
	if err != nil {
		return nil, apperrors.NewNotFoundError(path, "malformed path")
	}
	return s.resolver.Resolve(method, segs)
}

// Get renders the resource at path
func (s *ResourceService) Get(ctx context.Context, path string, query url.Values) (any, error) {
	opts, err := ParseGetOptions(query)
	if err != nil {
		return nil, err
	}
	res, err := s.Resolve(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return s.reader.Get(res, opts)
}

// Post creates a row in the collection at path and returns its URI
func (s *ResourceService) Post(ctx context.Context, path string, body map[string]any) (string, error) {
	res, err := s.Resolve(ctx, http.MethodPost, path)
	if err != nil {
		return "", err
	}
	return s.engine.Post(ctx, res, body)
}

// Put replaces the configuration of the row at path
func (s *ResourceService) Put(ctx context.Context, path string, body map[string]any) error {
	res, err := s.Resolve(ctx, http.MethodPut, path)
	if err != nil {
		return err
	}
	return s.engine.Put(ctx, res, body)
}

// Patch applies a JSON patch to the row at path
func (s *ResourceService) Patch(ctx context.Context, path string, patch []byte) (bool, error) {
	res, err := s.Resolve(ctx, http.MethodPatch, path)
	if err != nil {
		return false, err
	}
	return s.engine.Patch(ctx, res, patch)
}

// Delete removes the row at path
func (s *ResourceService) Delete(ctx context.Context, path string) error {
	res, err := s.Resolve(ctx, http.MethodDelete, path)
	if err != nil {
		return err
	}
	return s.engine.Delete(ctx, res)
}
