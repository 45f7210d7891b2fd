package http

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

// RouterConfig собирает зависимости REST-поверхности.
type RouterConfig struct {
	Reconciler  *order.Reconciler
	Verifier    auth.Verifier
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
}

// NewRouter собирает gin-движок с полным набором маршрутов /orders.
// Idempotency-репозиторий опционален: без него POST /orders обслуживается
// без поддержки Idempotency-Key.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(logger))

	handler := NewHandler(cfg.Reconciler, logger)

	orders := engine.Group("/orders", Authenticate(cfg.Verifier))
	{
		orders.GET("", handler.List)
		orders.GET("/:id", handler.Get)
		if cfg.Idempotency != nil {
			orders.POST("", Idempotency(cfg.Idempotency, logger), handler.Create)
		} else {
			orders.POST("", handler.Create)
		}
		orders.PUT("/:id", handler.Update)
		orders.DELETE("/:id", handler.Delete)
	}

	return engine
}
