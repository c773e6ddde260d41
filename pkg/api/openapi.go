package api

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"

	"github.com/nimburion/dlqmanager/pkg/observability/logger"
)

// Request validation modes.
const (
	ValidationModeOff      = "off"
	ValidationModeStrict   = "strict"
	ValidationModeWarnOnly = "warn-only"
)

//go:embed openapi.yaml
var openapiDocument []byte

var loadDocument = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
})

// Document returns the parsed OpenAPI description of the HTTP API.
func Document() (*openapi3.T, error) {
	return loadDocument()
}

func mustDocument() *openapi3.T {
	doc, err := Document()
	if err != nil {
		panic(err)
	}
	return doc
}

func serveDocument(doc *openapi3.T) (yamlHandler, jsonHandler gin.HandlerFunc) {
	yamlHandler = func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/x-yaml", openapiDocument)
	}
	jsonHandler = func(c *gin.Context) {
		data, err := doc.MarshalJSON()
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/json", data)
	}
	return yamlHandler, jsonHandler
}

// requestValidation checks requests against doc. In warn-only mode failures
// are logged and the request proceeds.
func requestValidation(doc *openapi3.T, mode string, log logger.Logger) (gin.HandlerFunc, error) {
	specRouter, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *gin.Context) {
		req := c.Request
		body, err := snapshotBody(req)
		if err == nil {
			err = validateRequest(cloneForValidation(req, body), specRouter, options)
		}
		if err == nil {
			c.Next()
			return
		}
		if mode == ValidationModeWarnOnly {
			log.WithContext(req.Context()).Warn("request validation failed (warn-only)",
				"method", req.Method,
				"path", req.URL.Path,
				"error", err.Error(),
			)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(validationStatusCode(err), ErrorResponse{
			Error:     "bad_request",
			Code:      CodeInvalidRequest,
			Message:   "request validation failed",
			RequestID: logger.RequestIDFromContext(req.Context()),
			Details:   map[string]interface{}{"detail": err.Error()},
		})
	}, nil
}

func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	if closeErr := req.Body.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	return body, nil
}

func cloneForValidation(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if len(body) == 0 {
		clone.Body = http.NoBody
		clone.ContentLength = 0
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return clone
}

func validateRequest(req *http.Request, specRouter routers.Router, opts *openapi3filter.Options) error {
	route, pathParams, err := specRouter.FindRoute(req)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(req.Context(), &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    opts,
	})
}

func validationStatusCode(err error) int {
	if errors.Is(err, routers.ErrMethodNotAllowed) {
		return http.StatusMethodNotAllowed
	}
	return http.StatusBadRequest
}
