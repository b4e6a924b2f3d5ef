package handler

import (
	"net/http"

	"checkout-payments/internal/dto"
	"checkout-payments/internal/middleware"
	"checkout-payments/internal/service"

	"github.com/labstack/echo/v4"
)

type CartHandler struct {
	cartService service.CartService
}

func NewCartHandler(cartService service.CartService) *CartHandler {
	return &CartHandler{
		cartService: cartService,
	}
}

func (h *CartHandler) GetCart(c echo.Context) error {
	cart, err := h.cartService.GetCart(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CartResponse{Success: true, Cart: cart})
}

func (h *CartHandler) AddItem(c echo.Context) error {
	var req dto.AddCartItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	cart, err := h.cartService.AddItem(c.Request().Context(), middleware.UserID(c), req.ProductID, req.Quantity)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CartResponse{Success: true, Message: "Item added to cart", Cart: cart})
}

func (h *CartHandler) UpdateItem(c echo.Context) error {
	var req dto.UpdateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	cart, err := h.cartService.UpdateQuantity(c.Request().Context(), middleware.UserID(c), c.Param("productId"), req.Quantity)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CartResponse{Success: true, Message: "Cart updated", Cart: cart})
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	cart, err := h.cartService.RemoveItem(c.Request().Context(), middleware.UserID(c), c.Param("productId"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CartResponse{Success: true, Message: "Item removed", Cart: cart})
}

func (h *CartHandler) ClearCart(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	if err := h.cartService.ClearCart(ctx, userID); err != nil {
		return err
	}
	cart, err := h.cartService.GetCart(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.CartResponse{Success: true, Message: "Cart cleared", Cart: cart})
}
