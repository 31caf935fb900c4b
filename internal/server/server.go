package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingservice "github.com/smallbiznis/atrium/internal/billing/service"
	"github.com/smallbiznis/atrium/internal/config"
	onboardingservice "github.com/smallbiznis/atrium/internal/onboarding/service"
	"github.com/smallbiznis/atrium/internal/partition"
	rbacservice "github.com/smallbiznis/atrium/internal/rbac/service"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(newEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func newEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if !cfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Server binds the control plane services to HTTP routes.
type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	mgr        partition.Manager
	router     *partition.Router
	tenants    *tenantservice.Service
	onboarding *onboardingservice.Service
	rbac       *rbacservice.Service
	processor  *billingservice.Processor
	genID      *snowflake.Node
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Mgr        partition.Manager
	Router     *partition.Router
	Tenants    *tenantservice.Service
	Onboarding *onboardingservice.Service
	RBAC       *rbacservice.Service
	Processor  *billingservice.Processor
	GenID      *snowflake.Node
	Log        *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		mgr:        p.Mgr,
		router:     p.Router,
		tenants:    p.Tenants,
		onboarding: p.Onboarding,
		rbac:       p.RBAC,
		processor:  p.Processor,
		genID:      p.GenID,
		log:        p.Log.Named("server"),
	}

	s.registerControlRoutes()
	s.registerWebhookRoutes()
	s.registerTenantRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerControlRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/signup", s.Signup)

	onboarding := v1.Group("/onboarding/:id")
	{
		onboarding.GET("", s.GetOnboarding)
		onboarding.POST("/resume", s.ResumeOnboarding)
		onboarding.POST("/modules", s.SetModules)
		onboarding.POST("/billing", s.MarkBillingConnected)
		onboarding.POST("/domain", s.SetCustomDomain)
		onboarding.POST("/invites", s.InviteMembers)
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) registerTenantRoutes() {
	api := s.engine.Group("/api")
	api.Use(partition.TenantContext(s.router))
	api.Use(partition.RequireTenant())
	api.Use(s.IdentityRequired())

	api.GET("/me/permissions", s.GetMyPermissions)
	api.GET("/workspace", s.RequirePermission("content.view"), s.GetWorkspace)
	api.GET("/members", s.RequirePermission("members.view"), s.ListMembers)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
