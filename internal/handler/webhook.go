package handler

import (
	"io"
	"net/http"

	"checkout-payments/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	headerWebhookSignature = "X-Razorpay-Signature"
	headerWebhookEventID   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

type WebhookHandler struct {
	paymentService service.PaymentService
}

func NewWebhookHandler(paymentService service.PaymentService) *WebhookHandler {
	return &WebhookHandler{
		paymentService: paymentService,
	}
}

func (h *WebhookHandler) RazorpayWebhook(c echo.Context) error {
	// the signature covers the raw body, so it is read before any decoding
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	err = h.paymentService.HandleWebhook(
		c.Request().Context(),
		c.Request().Header.Get(headerWebhookEventID),
		c.Request().Header.Get(headerWebhookSignature),
		body,
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
