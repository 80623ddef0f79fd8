package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/app"
	iauth "github.com/pushbeam/pushbeam/internal/auth"
	"github.com/pushbeam/pushbeam/internal/gateway"
	"github.com/pushbeam/pushbeam/internal/handlers"
	"github.com/pushbeam/pushbeam/internal/middleware"
	"github.com/pushbeam/pushbeam/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, gw gateway.Gateway, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	deviceService, err := services.NewDeviceService(db)
	if err != nil {
		return nil, err
	}

	dispatchService, err := services.NewDispatchService(db, deviceService, gw, services.DispatchConfig{
		BatchSize:   cfg.Dispatch.BatchSize,
		SendTimeout: cfg.Dispatch.SendTimeout,
		DefaultTTL:  cfg.Dispatch.DefaultTTL(),
	})
	if err != nil {
		return nil, err
	}

	reconciliationService, err := services.NewReconciliationService(db, deviceService, services.ReconciliationConfig{
		LookbackDays: cfg.Reconciliation.LookbackDays,
		DefaultLimit: cfg.Reconciliation.DefaultLimit,
		MaxLimit:     cfg.Reconciliation.MaxLimit,
	})
	if err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		healthHandler := handlers.NewHealthHandler(db)
		r.GET("/health", healthHandler.Check)
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	deviceHandler := handlers.NewDeviceHandler(deviceService, reconciliationService)
	notificationHandler := handlers.NewNotificationHandler(dispatchService, reconciliationService)

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	devices := api.Group("/devices")
	{
		devices.POST("", deviceHandler.Register)
		devices.GET("", deviceHandler.List)
		devices.DELETE("/:token", deviceHandler.Unregister)
		devices.POST("/:token/heartbeat", deviceHandler.Heartbeat)
	}

	notifications := api.Group("/notifications")
	{
		notifications.POST("/dispatch", notificationHandler.Dispatch)
		notifications.GET("/missed", notificationHandler.Missed)
		notifications.POST("/read", notificationHandler.AcknowledgeAll)
		notifications.POST("/:id/read", notificationHandler.Acknowledge)
	}

	return r, nil
}
