package server

import (
	"context"
	"net/http"

	"checkout-payments/internal/handler"
	"checkout-payments/internal/metrics"
	"checkout-payments/internal/middleware"
	"checkout-payments/internal/service"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	PaymentService service.PaymentService
	CartService    service.CartService
	Sweeper        handler.Sweeper
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	JWTSecret      []byte
}

type Server struct {
	echo           *echo.Echo
	deps           Deps
	orderHandler   *handler.OrderHandler
	cartHandler    *handler.CartHandler
	adminHandler   *handler.AdminHandler
	webhookHandler *handler.WebhookHandler
}

func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(deps.Logger)

	e.Use(middleware.LoggerMiddleware(deps.Logger))
	e.Use(middleware.MetricsMiddleware(deps.Metrics))
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	s := &Server{
		echo:           e,
		deps:           deps,
		orderHandler:   handler.NewOrderHandler(deps.PaymentService),
		cartHandler:    handler.NewCartHandler(deps.CartService),
		adminHandler:   handler.NewAdminHandler(deps.PaymentService, deps.Sweeper),
		webhookHandler: handler.NewWebhookHandler(deps.PaymentService),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- gateway webhooks, signed by razorpay --------
	api.POST("/payments/webhook", s.webhookHandler.RazorpayWebhook)

	auth := middleware.AuthMiddleware(s.deps.JWTSecret)

	orders := api.Group("/orders", auth)
	orders.POST("", s.orderHandler.CreateOrder)
	orders.GET("", s.orderHandler.ListOrders)
	orders.POST("/verify", s.orderHandler.VerifyPayment)
	orders.POST("/cancel", s.orderHandler.CancelOrder)

	cart := api.Group("/cart", auth)
	cart.GET("", s.cartHandler.GetCart)
	cart.DELETE("", s.cartHandler.ClearCart)
	cart.POST("/items", s.cartHandler.AddItem)
	cart.PATCH("/items/:productId", s.cartHandler.UpdateItem)
	cart.DELETE("/items/:productId", s.cartHandler.RemoveItem)

	admin := api.Group("/admin", auth, middleware.RequireAdmin())
	admin.POST("/reconcile", s.adminHandler.Reconcile)
	admin.GET("/payments", s.adminHandler.ListPayments)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
