package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"otodom-stats/utils"
)

// NewRouter builds the gin engine with CORS and request logging.
func NewRouter(h *Handler, origins []string, logger *utils.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer(), "/healthz"))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(origins)))

	SetupRoutes(router, h)
	return router
}

func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api")
	{
		api.POST("/scrape/refresh", h.Refresh)
		api.GET("/scrape/status", h.Status)
		api.GET("/scrape/tasks", h.Tasks)
		api.GET("/aggregates/:city", h.Aggregates)
		api.GET("/cities", h.Cities)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
