package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// serveLogged runs one request through GinMiddleware plus the given
// handler and returns the recorded "HTTP Request" entry.
func serveLogged(t *testing.T, target string, pre gin.HandlerFunc, handler gin.HandlerFunc) (*observer.LoggedEntry, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, recorded := observer.New(zapcore.DebugLevel)
	router := gin.New()
	if pre != nil {
		router.Use(pre)
	}
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/:path", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", "gateway-test/1.0")
	router.ServeHTTP(w, req)

	for _, entry := range recorded.All() {
		if entry.Message == "HTTP Request" {
			e := entry
			return &e, w
		}
	}
	t.Fatal("no HTTP Request entry logged")
	return nil, nil
}

func ok(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "ok"}) }

func TestGinMiddleware_LogsRequestFields(t *testing.T) {
	entry, w := serveLogged(t, "/orders?limit=10", nil, ok)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entry.ContextMap()
	for _, key := range []string{"status", "latency", "client_ip", "user_agent", "method", "path"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "limit=10", fields["query"])
}

func TestGinMiddleware_StatusDrivesLevel(t *testing.T) {
	entry, _ := serveLogged(t, "/bad", nil, func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
	})
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	entry, _ = serveLogged(t, "/broken", nil, func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	})
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
}

func TestGinMiddleware_PicksUpRequestID(t *testing.T) {
	setID := func(c *gin.Context) {
		c.Set("request_id", "req-123")
		c.Next()
	}
	entry, _ := serveLogged(t, "/orders", setID, ok)

	assert.Equal(t, "req-123", entry.ContextMap()["request_id"])
}

func TestGinMiddleware_CallerAndServiceFields(t *testing.T) {
	entry, _ := serveLogged(t, "/orders", nil, func(c *gin.Context) {
		// Auth and routing annotate the gin context once resolved
		c.Set("caller_id", "client-42")
		c.Set("target_service", "orders")
		ok(c)
	})

	fields := entry.ContextMap()
	assert.Equal(t, "client-42", fields["caller_id"])
	assert.Equal(t, "orders", fields["service"])
}

func TestGinMiddleware_PropagatesRequestContext(t *testing.T) {
	setID := func(c *gin.Context) {
		c.Set("request_id", "req-ctx-1")
		c.Next()
	}

	var seen string
	serveLogged(t, "/orders", setID, func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		ok(c)
	})

	assert.Equal(t, "req-ctx-1", seen)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, recorded := observer.New(zapcore.ErrorLevel)
	router := gin.New()
	router.Use(Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	logs := recorded.All()
	require.NotEmpty(t, logs)
	assert.Equal(t, "Panic recovered", logs[0].Message)
}

func TestGetGinLogger(t *testing.T) {
	var fromHandler *zap.Logger
	serveLogged(t, "/orders", nil, func(c *gin.Context) {
		fromHandler = GetGinLogger(c)
		ok(c)
	})
	assert.NotNil(t, fromHandler)

	// Outside the middleware it degrades to a nop logger
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var bare *zap.Logger
	router.GET("/raw", func(c *gin.Context) {
		bare = GetGinLogger(c)
		ok(c)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw", nil))

	require.NotNil(t, bare)
	assert.NotPanics(t, func() { bare.Info("noop") })
}
