package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar is anything that can mount routes onto a gin group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router assembles the gateway's HTTP surfaces on one engine: the
// catch-all proxy route under /api, the admin group, and the health
// probe at the engine root.
type Router struct {
	engine      *gin.Engine
	adminPrefix string
	middleware  []gin.HandlerFunc
	registrars  []RouteRegistrar
	proxy       gin.HandlerFunc
	health      gin.HandlerFunc
}

// RouterOption tweaks a Router during construction.
type RouterOption func(*Router)

// WithAdminPrefix overrides the admin group prefix (default "/admin")
func WithAdminPrefix(prefix string) RouterOption {
	return func(r *Router) { r.adminPrefix = prefix }
}

// WithProxy mounts the handler on ANY /api/*path. The proxy owns path
// parsing, so unknown versions and services produce enveloped errors
// instead of gin 404s.
func WithProxy(handler gin.HandlerFunc) RouterOption {
	return func(r *Router) { r.proxy = handler }
}

// WithHealth mounts the handler on GET /health at the engine root,
// outside the admin middleware chain.
func WithHealth(handler gin.HandlerFunc) RouterOption {
	return func(r *Router) { r.health = handler }
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, adminPrefix: "/admin"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use adds middleware applied to the admin group only. The proxy route
// stays open; the routing pipeline emits its own auth envelopes.
func (r *Router) Use(middleware ...gin.HandlerFunc) *Router {
	r.middleware = append(r.middleware, middleware...)
	return r
}

// Register queues a registrar to be mounted by Setup.
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts everything onto the engine. Call once, after all
// Register and Use calls.
func (r *Router) Setup() {
	if r.health != nil {
		r.engine.GET("/health", r.health)
	}
	if r.proxy != nil {
		r.engine.Any("/api/*path", r.proxy)
	}

	admin := r.engine.Group(r.adminPrefix, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(admin)
	}
}

// DomainGroup collects routes for one admin resource before they get
// mounted. It satisfies RouteRegistrar, so groups nest.
type DomainGroup struct {
	name       string
	prefix     string
	routes     []route
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type route struct {
	method string
	path   string
	chain  []gin.HandlerFunc
}

// NewDomainGroup names a resource group mounted under prefix.
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware applied to every route in this group and its
// subgroups.
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

func (dg *DomainGroup) add(method, path string, chain []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, route{method: method, path: path, chain: chain})
	return dg
}

func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.add(http.MethodGet, path, handlers)
}

func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.add(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.add(http.MethodPut, path, handlers)
}

func (dg *DomainGroup) PATCH(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.add(http.MethodPatch, path, handlers)
}

func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.add(http.MethodDelete, path, handlers)
}

// Group nests a child resource group under this one.
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	child := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, child)
	return child
}

// RegisterRoutes mounts the collected routes, then recurses into
// subgroups.
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix, dg.middleware...)
	for _, rt := range dg.routes {
		group.Handle(rt.method, rt.path, rt.chain...)
	}
	for _, child := range dg.subgroups {
		child.RegisterRoutes(group)
	}
}

func (dg *DomainGroup) Name() string   { return dg.name }
func (dg *DomainGroup) Prefix() string { return dg.prefix }
