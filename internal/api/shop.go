package api

import (
	"fmt"
	"net/http"
	"strconv"

	"storefront/internal/apperr"
	"storefront/internal/invoice"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type addToCartRequest struct {
	ProductID int64 `json:"product_id" binding:"required,min=1"`
}

// listProducts serves one catalog page; a missing or malformed page means page 1
func (h *Handler) listProducts(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}

	result, err := h.svc.Catalog.ListProducts(c.Request.Context(), page)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respond(c, http.StatusOK, gin.H{
		"products":          result.Items,
		"total_products":    result.TotalCount,
		"current_page":      result.CurrentPage,
		"has_next_page":     result.HasNext,
		"has_previous_page": result.HasPrevious,
		"next_page":         result.NextPage,
		"previous_page":     result.PreviousPage,
		"last_page":         result.LastPage,
	})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.respondError(c, apperr.NotFound("Product not found"))
		return
	}

	product, err := h.svc.Catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"product": product})
}

func (h *Handler) getCart(c *gin.Context) {
	viewer := viewerFrom(c)

	lines, err := h.svc.Carts.GetCart(c.Request.Context(), viewer.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"products": lines})
}

func (h *Handler) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("Invalid request body"))
		return
	}

	viewer := viewerFrom(c)
	if err := h.svc.Carts.AddToCart(c.Request.Context(), viewer.UserID, req.ProductID); err != nil {
		h.respondError(c, err)
		return
	}
	h.getCart(c)
}

func (h *Handler) removeFromCart(c *gin.Context) {
	productID, ok := parseID(c, "productId")
	if !ok {
		h.respondError(c, apperr.Validation("Invalid product ID"))
		return
	}

	viewer := viewerFrom(c)
	if err := h.svc.Carts.RemoveFromCart(c.Request.Context(), viewer.UserID, productID); err != nil {
		h.respondError(c, err)
		return
	}
	h.getCart(c)
}

func (h *Handler) clearCart(c *gin.Context) {
	viewer := viewerFrom(c)
	if err := h.svc.Carts.ClearCart(c.Request.Context(), viewer.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"products": []interface{}{}})
}

func (h *Handler) getOrders(c *gin.Context) {
	viewer := viewerFrom(c)

	orders, err := h.svc.Orders.GetOrders(c.Request.Context(), viewer.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"orders": orders})
}

// createOrder places an order from the cart; Idempotency-Key makes retries safe
func (h *Handler) createOrder(c *gin.Context) {
	viewer := viewerFrom(c)

	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), viewer, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusCreated, gin.H{"order": order})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		h.respondError(c, apperr.NotFound("No order found"))
		return
	}

	order, err := h.svc.Orders.GetOrder(c.Request.Context(), orderID, viewerFrom(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"order": order})
}

// beginCheckout opens a gateway session whose callbacks point back at this host
func (h *Handler) beginCheckout(c *gin.Context) {
	base := requestBaseURL(c)

	resp, err := h.svc.Checkout.BeginCheckout(c.Request.Context(), service.CheckoutRequest{
		Viewer:     viewerFrom(c),
		SuccessURL: base + "/api/v1/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/api/v1/checkout/cancel",
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respond(c, http.StatusOK, gin.H{
		"products":   resp.Products,
		"total_sum":  resp.TotalAmount,
		"currency":   resp.Currency,
		"session_id": resp.Session.ID,
		"url":        resp.Session.URL,
		"key":        resp.Session.PublishableKey,
	})
}

// checkoutSuccess creates the order for a completed session. The session id is the idempotency
// key, so a reloaded callback returns the same order.
func (h *Handler) checkoutSuccess(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		h.respondError(c, apperr.Validation("session_id is required"))
		return
	}

	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), viewerFrom(c), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"order": order})
}

// checkoutCancel returns the untouched cart
func (h *Handler) checkoutCancel(c *gin.Context) {
	h.getCart(c)
}

// getInvoice sends the order's invoice once its archive copy is committed
func (h *Handler) getInvoice(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		h.respondError(c, apperr.NotFound("No order found"))
		return
	}

	ctx := c.Request.Context()
	rendered, err := h.svc.Invoices.PrepareInvoice(ctx, orderID, viewerFrom(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Type", invoice.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rendered.FileName()))
	c.Header("Content-Length", strconv.Itoa(len(rendered.Data)))
	c.Status(http.StatusOK)

	if err := h.svc.Invoices.WriteInvoice(ctx, rendered, c.Writer); err != nil {
		if !c.Writer.Written() {
			for _, k := range []string{"Content-Type", "Content-Disposition", "Content-Length"} {
				c.Writer.Header().Del(k)
			}
			h.respondError(c, err)
			return
		}
		// the body is already on the wire; the client sees a truncated download
		h.logger.Error("Invoice download failed", zap.Int64("order_id", orderID), zap.Error(err))
		_ = c.Error(err)
	}
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}
