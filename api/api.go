/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api is the operator-facing HTTP API of the gateway.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynqmon"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	gateway "github.com/screening-gateway/gateway"
	"github.com/screening-gateway/gateway/api/middleware"
	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/internal/metrics"
	redis_db "github.com/screening-gateway/gateway/internal/redis-db"
)

type Api struct {
	gateway   *gateway.Gateway
	worklist  database.IWorklistStore
	instances database.IInstanceStore
	queue     *gateway.Queue
	metrics   *metrics.Metrics
	router    *gin.Engine
}

// Option configures optional API dependencies.
type Option func(*Api)

// WithInstanceStore enables the instance, upload and stats routes.
func WithInstanceStore(store database.IInstanceStore) Option {
	return func(a *Api) { a.instances = store }
}

// WithQueue makes POST /actions enqueue instead of handling inline.
func WithQueue(q *gateway.Queue) Option {
	return func(a *Api) { a.queue = q }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Api) { a.metrics = m }
}

func NewAPI(conf *config.Configuration, g *gateway.Gateway, worklist database.IWorklistStore, opts ...Option) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(conf.ProjectName), middleware.RequestLogger())

	a := &Api{gateway: g, worklist: worklist, router: r}
	for _, opt := range opts {
		opt(a)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/health", a.Health)
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuth(conf.Server.SecretKey))
	}
	if a.queue != nil {
		if opt, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify); err == nil {
			mon := asynqmon.New(asynqmon.Options{RootPath: "/monitoring", RedisConnOpt: opt})
			r.Any("/monitoring/*path", gin.WrapH(mon))
		}
	}
	return a
}

// Router registers the admin routes and returns the engine.
func (a *Api) Router() *gin.Engine {
	router := a.router

	router.POST("/actions", a.SubmitAction)

	router.GET("/worklist", a.ListWorklistItems)
	router.POST("/worklist", a.CreateWorklistItem)
	router.GET("/worklist/:accession", a.GetWorklistItem)
	router.PUT("/worklist/:accession/study-uid", a.UpdateStudyInstanceUID)
	router.DELETE("/worklist/:accession", a.DeleteWorklistItem)

	if a.instances != nil {
		router.GET("/instances/:uid", a.GetInstance)
		router.GET("/instances/:uid/verify", a.VerifyInstance)
		router.GET("/uploads/failed", a.ListFailedUploads)
		router.POST("/uploads/:uid/retry", a.RetryUpload)
		router.GET("/stats", a.Stats)
	}
	return router
}

func (a *Api) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError writes err with the status its apierror code maps to.
func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}
