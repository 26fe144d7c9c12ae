package handlers

import (
	"net/http"

	"openfan_micro/internal/logger"
	"openfan_micro/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	metrics  http.Handler
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies. A nil metrics
// handler leaves /metrics unregistered.
func NewHandler(services *service.Service, metrics http.Handler, log *logger.Logger) *Handler {
	return &Handler{services: services, metrics: metrics, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Snapshot stream (HTTP upgrade) on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.operatorIdentity)
	{
		h.registerDeviceRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	api.GET("/devices", h.listDevices)
	dev := api.Group("/devices/:id")
	{
		dev.GET("/state", h.getState)
		dev.GET("/diagnostics", h.getDiagnostics)
		// Body example: {"percent":40}
		dev.POST("/duty", h.setDuty)
		dev.POST("/on", h.turnOn)
		dev.POST("/off", h.turnOff)
		dev.POST("/led", h.setLED)
		dev.POST("/voltage", h.setVoltage)
		dev.POST("/calibrate", h.calibrate)
		dev.PUT("/temp-control", h.setTempControl)
		dev.DELETE("/temp-control", h.clearTempControl)
		dev.POST("/temperature", h.pushTemperature)
		dev.PUT("/polling", h.setPolling)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
