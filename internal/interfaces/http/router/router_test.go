package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	assert.NotNil(t, r)
	assert.Equal(t, "/admin", r.adminPrefix)
	assert.Empty(t, r.registrars)
}

func TestRouterWithAdminPrefix(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAdminPrefix("/ops"))

	g := NewDomainGroup("services", "/services")
	g.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, "services")
	})

	r.Register(g).Setup()

	req := httptest.NewRequest("GET", "/ops/services", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "services", w.Body.String())
}

func TestRouterRegister(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	group := NewDomainGroup("test", "/test")
	r.Register(group)

	assert.Len(t, r.registrars, 1)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	group := NewDomainGroup("services", "/services")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.Register(group)
	r.Setup()

	req := httptest.NewRequest("GET", "/admin/services/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestRouterProxyRoute(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithProxy(func(c *gin.Context) {
		c.String(http.StatusOK, c.Request.Method+" "+c.Param("path"))
	}))
	r.Setup()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/api/v1/orders/42", "GET /v1/orders/42"},
		{"POST", "/api/v2/payments", "POST /v2/payments"},
		{"DELETE", "/api/v1/users/7", "DELETE /v1/users/7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tt.want, w.Body.String())
	}
}

func TestRouterHealthRoute(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithHealth(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}))
	r.Setup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRouterUse(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine,
		WithProxy(func(c *gin.Context) {
			c.String(http.StatusOK, "proxied")
		}),
		WithHealth(func(c *gin.Context) {
			c.String(http.StatusOK, "healthy")
		}),
	)

	// Guard middleware must cover admin routes and nothing else.
	r.Use(func(c *gin.Context) {
		c.Header("X-Guarded", "yes")
		c.Next()
	})

	group := NewDomainGroup("services", "/services")
	group.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, "services")
	})

	r.Register(group).Setup()

	adminReq := httptest.NewRequest("GET", "/admin/services", nil)
	adminRec := httptest.NewRecorder()
	engine.ServeHTTP(adminRec, adminReq)
	assert.Equal(t, http.StatusOK, adminRec.Code)
	assert.Equal(t, "yes", adminRec.Header().Get("X-Guarded"))

	proxyReq := httptest.NewRequest("GET", "/api/v1/orders/1", nil)
	proxyRec := httptest.NewRecorder()
	engine.ServeHTTP(proxyRec, proxyReq)
	assert.Equal(t, http.StatusOK, proxyRec.Code)
	assert.Empty(t, proxyRec.Header().Get("X-Guarded"))

	healthReq := httptest.NewRequest("GET", "/health", nil)
	healthRec := httptest.NewRecorder()
	engine.ServeHTTP(healthRec, healthReq)
	assert.Equal(t, http.StatusOK, healthRec.Code)
	assert.Empty(t, healthRec.Header().Get("X-Guarded"))
}

func TestDomainGroup(t *testing.T) {
	t.Run("creates group with name and prefix", func(t *testing.T) {
		g := NewDomainGroup("services", "/services")
		assert.Equal(t, "services", g.Name())
		assert.Equal(t, "/services", g.Prefix())
	})

	t.Run("registers routes for each verb", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.GET("/items", func(c *gin.Context) { c.String(http.StatusOK, "listed") })
		g.POST("/items", func(c *gin.Context) { c.String(http.StatusCreated, "created") })
		g.PUT("/items/:id", func(c *gin.Context) { c.String(http.StatusOK, "updated") })
		g.PATCH("/items/:id", func(c *gin.Context) { c.String(http.StatusOK, "patched") })
		g.DELETE("/items/:id", func(c *gin.Context) { c.String(http.StatusNoContent, "") })

		admin := engine.Group("/admin")
		g.RegisterRoutes(admin)

		tests := []struct {
			method string
			path   string
			code   int
		}{
			{"GET", "/admin/test/items", http.StatusOK},
			{"POST", "/admin/test/items", http.StatusCreated},
			{"PUT", "/admin/test/items/1", http.StatusOK},
			{"PATCH", "/admin/test/items/1", http.StatusOK},
			{"DELETE", "/admin/test/items/1", http.StatusNoContent},
		}
		for _, tt := range tests {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code, "%s %s", tt.method, tt.path)
		}
	})

	t.Run("applies middleware", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")

		g.Use(func(c *gin.Context) {
			c.Header("X-Test-Middleware", "applied")
			c.Next()
		})

		g.GET("/items", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})

		admin := engine.Group("/admin")
		g.RegisterRoutes(admin)

		req := httptest.NewRequest("GET", "/admin/test/items", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, "applied", w.Header().Get("X-Test-Middleware"))
	})

	t.Run("creates subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("workflows", "/workflows")

		instances := g.Group("instances", "/instances")
		instances.GET("", func(c *gin.Context) {
			c.String(http.StatusOK, "instances list")
		})

		admin := engine.Group("/admin")
		g.RegisterRoutes(admin)

		req := httptest.NewRequest("GET", "/admin/workflows/instances", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "instances list", w.Body.String())
	})
}

func TestMultipleDomainGroups(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	services := NewDomainGroup("services", "/services")
	services.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, "services")
	})

	workflows := NewDomainGroup("workflows", "/workflows")
	workflows.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, "workflows")
	})

	r.Register(services).Register(workflows)
	r.Setup()

	req1 := httptest.NewRequest("GET", "/admin/services", nil)
	w1 := httptest.NewRecorder()
	engine.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "services", w1.Body.String())

	req2 := httptest.NewRequest("GET", "/admin/workflows", nil)
	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "workflows", w2.Body.String())
}

func TestChainedMethodCalls(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	g := NewDomainGroup("test", "/test")
	g.GET("/a", func(c *gin.Context) { c.String(http.StatusOK, "a") }).
		POST("/b", func(c *gin.Context) { c.String(http.StatusOK, "b") }).
		DELETE("/c", func(c *gin.Context) { c.String(http.StatusOK, "c") })

	r.Register(g).Setup()

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/admin/test/a"},
		{"POST", "/admin/test/b"},
		{"DELETE", "/admin/test/c"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "%s %s", tt.method, tt.path)
	}
}
