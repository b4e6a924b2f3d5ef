package handler

import (
	"net/http"

	"checkout-payments/internal/dto"
	"checkout-payments/internal/middleware"
	"checkout-payments/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	paymentService service.PaymentService
}

func NewOrderHandler(paymentService service.PaymentService) *OrderHandler {
	return &OrderHandler{
		paymentService: paymentService,
	}
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.paymentService.CreateOrder(ctx, middleware.UserID(c), req.ShippingAddress.ToModel())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CreateOrderResponse{
		Success:       true,
		Order:         result.Order,
		GatewayIntent: result.Intent,
		KeyID:         result.KeyID,
	})
}

func (h *OrderHandler) VerifyPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.VerifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.paymentService.VerifyPayment(ctx, middleware.UserID(c), req.Input())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.OrderResponse{Success: true, Message: "Payment verified", Order: order})
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CancelOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	order, err := h.paymentService.CancelOrder(ctx, middleware.UserID(c), req.OrderID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.OrderResponse{Success: true, Message: "Order cancelled", Order: order})
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	orders, err := h.paymentService.ListOrders(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.OrdersResponse{Success: true, Orders: orders})
}
