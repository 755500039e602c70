package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/app"
	iauth "github.com/charlesng35/mailbridge/internal/auth"
	"github.com/charlesng35/mailbridge/internal/handlers"
	"github.com/charlesng35/mailbridge/internal/middleware"
	"github.com/charlesng35/mailbridge/internal/monitoring"
	"github.com/charlesng35/mailbridge/internal/monitoring/checks"
	"github.com/charlesng35/mailbridge/internal/services"
)

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sealer services.SecretSealer) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if sealer == nil {
		return nil, fmt.Errorf("secret sealer must be provided")
	}

	if err := handlers.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	partnerSvc, err := services.NewPartnerService(db, auditSvc)
	if err != nil {
		return nil, err
	}
	providerSvc, err := services.NewImapProviderService(db, auditSvc)
	if err != nil {
		return nil, err
	}
	connectionSvc, err := services.NewPartnerConnectionService(db, auditSvc)
	if err != nil {
		return nil, err
	}
	userSvc, err := services.NewMailboxUserService(db, connectionSvc, sealer, auditSvc)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		manager := monitoring.NewHealthManager()
		manager.RegisterReadiness(checks.Database(db, 0))
		if cfg.Maintenance.Enabled {
			manager.RegisterReadiness(checks.Maintenance(0))
		}

		health := handlers.NewHealthHandler(manager)
		r.GET("/health", health.Health)
		r.GET("/health/live", health.Live)
		r.GET("/health/ready", health.Ready)
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	read := middleware.RequireScope(ScopeRead)
	write := middleware.RequireScope(ScopeWrite)

	partnerHandler := handlers.NewPartnerHandler(partnerSvc)
	connectionHandler := handlers.NewConnectionHandler(connectionSvc, userSvc, cfg.OAuth.RedirectURL)

	partners := api.Group("/partners")
	{
		partners.GET("", read, partnerHandler.List)
		partners.POST("", write, partnerHandler.Create)
		partners.GET("/:id", read, partnerHandler.Get)
		partners.PATCH("/:id", write, partnerHandler.Update)
		partners.DELETE("/:id", write, partnerHandler.Delete)
		partners.GET("/:id/connections", read, connectionHandler.ListByPartner)
		partners.POST("/:id/connections", write, connectionHandler.Create)
	}

	connections := api.Group("/connections")
	{
		connections.GET("", read, connectionHandler.List)
		connections.GET("/:id", read, connectionHandler.Get)
		connections.DELETE("/:id", write, connectionHandler.Delete)
		connections.PATCH("/:id/settings", write, connectionHandler.UpdateSettings)
		connections.GET("/:id/users", read, connectionHandler.ListUsers)
		connections.POST("/:id/users", write, connectionHandler.CreateUser)
		connections.DELETE("/:id/users/:userID", write, connectionHandler.DeleteUser)
		connections.GET("/:id/authorize", write, connectionHandler.Authorize)
	}

	providerHandler := handlers.NewProviderHandler(providerSvc)
	providers := api.Group("/providers")
	{
		providers.GET("", read, providerHandler.List)
		providers.POST("", write, providerHandler.Create)
		providers.GET("/:id", read, providerHandler.Get)
		providers.DELETE("/:id", write, providerHandler.Delete)
	}

	api.GET("/mechanisms", read, handlers.Mechanisms)

	auditHandler := handlers.NewAuditHandler(auditSvc)
	api.GET("/audit", read, auditHandler.List)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
