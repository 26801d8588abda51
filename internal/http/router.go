package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "eventapp-telegram-bot/docs"
	"eventapp-telegram-bot/internal/common/middleware"
	"eventapp-telegram-bot/internal/metrics"
)

// RouterConfig carries what the HTTP surface needs from the rest of the app.
type RouterConfig struct {
	Debug       bool
	CORSOrigins []string
	BotToken    string
	InitDataTTL time.Duration

	Telegram  *TelegramHandlers
	Readiness []ReadinessCheck
	Gatherer  prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	router.GET("/health", Health)
	router.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ready", Ready(cfg.Readiness))
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Gatherer)))
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	tg := router.Group("/api/telegram")
	tg.GET("/auth", middleware.InitData(cfg.BotToken, cfg.InitDataTTL), cfg.Telegram.Auth)
	tg.POST("/link", cfg.Telegram.Link)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Telegram-Init-Data", "X-Request-ID"}
	c.ExposeHeaders = []string{"X-Request-ID"}

	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	return c
}
