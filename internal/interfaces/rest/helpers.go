package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/pkg/errors"
)

// RespondAppError sends a standardised {code, message, fields} body using pkg/errors
func RespondAppError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	code := errors.GetHTTPStatus(err)
	if code >= http.StatusInternalServerError && logger != nil {
		logger.Errorw("Request failed",
			"status", code,
			"method", c.Request.Method,
			"path", c.Request.URL.EscapedPath(),
			"error", err)
	}
	c.AbortWithStatusJSON(code, errors.ToResponse(err))
}

// readBody returns the raw request body, rejecting empty ones
func readBody(c *gin.Context) ([]byte, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.NewValidationError("body", err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewValidationError("body", "request body is empty")
	}
	return data, nil
}

// decodeObject decodes a JSON object body, keeping numbers as json.Number so
// integer columns are not rounded through float64
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if obj == nil {
		return nil, errors.NewValidationError("body", "expected a JSON object")
	}
	if dec.More() {
		return nil, errors.NewValidationError("body", "trailing data after JSON object")
	}
	return obj, nil
}
