package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/winton/unstorage/internal/keyspace"
	"github.com/winton/unstorage/internal/store"
)

// maxValueSize bounds the body of a PUT request
const maxValueSize = 32 << 20

// HandlerOptions configures the HTTP handler.
type HandlerOptions struct {
	// Token, when set, must be sent as "Authorization: Bearer <token>"
	Token string
	// ReadOnly rejects PUT and DELETE
	ReadOnly bool
	// Sink backs GET /metrics; the route is absent when nil
	Sink *metrics.InmemSink
	// Logger receives one line per request
	Logger hclog.Logger
}

// itemService serves a Storage over HTTP. Values travel as raw bytes so
// text-only backends are transparently base64-encoded by Storage.
type itemService struct {
	storage *store.Storage
	logger  hclog.Logger
}

// NewHandler builds the HTTP API for s:
//
//	GET    /healthz
//	GET    /metrics
//	HEAD   /items/<key>
//	GET    /items/<key>
//	PUT    /items/<key>
//	DELETE /items/<key>
//	GET    /keys?prefix=<prefix>
//	DELETE /keys?prefix=<prefix>
func NewHandler(s *store.Storage, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	svc := &itemService{storage: s, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.New(requestid.WithCustomHeaderStrKey("X-Request-Id")))
	r.Use(loggingMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"driver": s.Driver().Name(),
		})
	})

	api := r.Group("/")
	if opts.Token != "" {
		api.Use(tokenMiddleware(opts.Token))
	}
	if opts.ReadOnly {
		api.Use(readOnlyMiddleware())
	}

	if opts.Sink != nil {
		api.GET("/metrics", gzip.Gzip(gzip.DefaultCompression), func(c *gin.Context) {
			data, err := opts.Sink.DisplayMetrics(c.Writer, c.Request)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, data)
		})
	}

	api.HEAD("/items/*key", svc.hasItem)
	api.GET("/items/*key", svc.getItem)
	api.PUT("/items/*key", svc.putItem)
	api.DELETE("/items/*key", svc.deleteItem)

	keys := api.Group("/keys")
	keys.GET("", gzip.Gzip(gzip.DefaultCompression), svc.listKeys)
	keys.DELETE("", svc.clearKeys)

	return r
}

func loggingMiddleware(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rlog := logger.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"request_id", requestid.Get(c),
		)

		start := time.Now()
		rlog.Trace("request started")
		c.Next()
		rlog.Debug("request completed", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func tokenMiddleware(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Next()
	}
}

func readOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPut, http.MethodDelete:
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "storage is read-only"})
			return
		}
		c.Next()
	}
}

// itemKey extracts the key from the wildcard route parameter.
func itemKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// statusOf maps a storage error to an HTTP status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, keyspace.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *itemService) fail(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("operation failed", "op", op, "error", err, "request_id", requestid.Get(c))
	}
	if c.Request.Method == http.MethodHead {
		c.AbortWithStatus(status)
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *itemService) hasItem(c *gin.Context) {
	found, err := s.storage.Has(c.Request.Context(), itemKey(c))
	if err != nil {
		s.fail(c, "has", err)
		return
	}
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *itemService) getItem(c *gin.Context) {
	value, err := s.storage.GetRaw(c.Request.Context(), itemKey(c))
	if err != nil {
		s.fail(c, "get", err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", value)
}

func (s *itemService) putItem(c *gin.Context) {
	value, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxValueSize))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if err := s.storage.SetRaw(c.Request.Context(), itemKey(c), value); err != nil {
		s.fail(c, "set", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *itemService) deleteItem(c *gin.Context) {
	if err := s.storage.Remove(c.Request.Context(), itemKey(c)); err != nil {
		s.fail(c, "remove", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *itemService) listKeys(c *gin.Context) {
	keys, err := s.storage.Keys(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		s.fail(c, "keys", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, keys)
}

func (s *itemService) clearKeys(c *gin.Context) {
	if err := s.storage.Clear(c.Request.Context(), c.Query("prefix")); err != nil {
		s.fail(c, "clear", err)
		return
	}
	c.Status(http.StatusNoContent)
}
