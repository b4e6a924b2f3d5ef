package handler

import (
	"context"
	"net/http"

	"checkout-payments/internal/dto"
	"checkout-payments/internal/model"
	"checkout-payments/internal/service"

	"github.com/labstack/echo/v4"
)

const defaultPaymentsLimit = 100

type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepReport, error)
}

type AdminHandler struct {
	paymentService service.PaymentService
	sweeper        Sweeper
}

func NewAdminHandler(paymentService service.PaymentService, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{
		paymentService: paymentService,
		sweeper:        sweeper,
	}
}

// Reconcile runs one sweep inline. A sweep already in flight, scheduled or
// manual, yields 409.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	report, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.ReconcileResponse{Success: true, Report: report})
}

func (h *AdminHandler) ListPayments(c echo.Context) error {
	var q dto.PaymentsQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	if q.Limit == 0 {
		q.Limit = defaultPaymentsLimit
	}

	overview, err := h.paymentService.ListAllPayments(c.Request().Context(), model.OrderStatus(q.Status), q.Limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.PaymentsResponse{
		Success:  true,
		Payments: overview.Orders,
		Total:    len(overview.Orders),
		ByStatus: overview.ByStatus,
	})
}
