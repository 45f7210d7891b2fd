// Пакет http — REST-поверхность сервиса заказов. Маршрутизация и
// авторизация живут здесь; ядро получает уже проверенный ownerId.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

// Handler обслуживает маршруты /orders.
type Handler struct {
	reconciler *order.Reconciler
	logger     *log.Entry
}

// NewHandler создаёт обработчик поверх reconciler.
func NewHandler(reconciler *order.Reconciler, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{reconciler: reconciler, logger: logger}
}

type itemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type mutateOrderRequest struct {
	Items []itemPayload `json:"items"`
}

type itemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	Price     int64  `json:"price"`
}

type orderResponse struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"ownerId"`
	Status     string         `json:"status"`
	TotalPrice int64          `json:"totalPrice"`
	Items      []itemResponse `json:"items"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, itemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Qty,
			Price:     item.PriceMinor,
		})
	}
	return orderResponse{
		ID:         o.ID,
		OwnerID:    o.OwnerID,
		Status:     string(o.Status),
		TotalPrice: o.TotalMinor,
		Items:      items,
	}
}

// List возвращает заказы владельца.
func (h *Handler) List(c *gin.Context) {
	ownerID := ownerFromContext(c)

	orders, err := h.reconciler.List(c.Request.Context(), ownerID, 0)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, result)
}

// Get возвращает один заказ владельца.
func (h *Handler) Get(c *gin.Context) {
	ownerID := ownerFromContext(c)

	o, err := h.reconciler.Get(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

// Create создаёт заказ из запрошенных позиций.
func (h *Handler) Create(c *gin.Context) {
	ownerID := ownerFromContext(c)

	requested, ok := h.bindItems(c)
	if !ok {
		return
	}

	o, err := h.reconciler.Create(c.Request.Context(), ownerID, requested)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(o))
}

// Update целиком заменяет позиции заказа.
func (h *Handler) Update(c *gin.Context) {
	ownerID := ownerFromContext(c)

	requested, ok := h.bindItems(c)
	if !ok {
		return
	}

	o, err := h.reconciler.Update(c.Request.Context(), ownerID, c.Param("id"), requested)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

// Delete удаляет заказ, возвращая остатки.
func (h *Handler) Delete(c *gin.Context) {
	ownerID := ownerFromContext(c)

	if err := h.reconciler.Delete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindItems разбирает тело мутации. Количества проверяются здесь:
// ядро получает только позиции с qty >= 1 и непустым productId.
func (h *Handler) bindItems(c *gin.Context) ([]order.ItemRequest, bool) {
	var req mutateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return nil, false
	}

	requested := make([]order.ItemRequest, 0, len(req.Items))
	for i, item := range req.Items {
		if item.ProductID == "" {
			ve := &domain.ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Reason: "is required"}
			c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
			return nil, false
		}
		if item.Quantity < 1 {
			ve := &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be >= 1"}
			c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
			return nil, false
		}
		requested = append(requested, order.ItemRequest{
			ProductID: item.ProductID,
			Qty:       item.Quantity,
		})
	}

	return requested, true
}

// writeError переводит доменные ошибки в HTTP-статусы:
// 404 — отсутствующий заказ или товар, 400 — нехватка остатка,
// 503 — конфликт остатков после исчерпанных перезапусков.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case domain.IsStockConflict(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stock conflict, retry later"})
	default:
		if nf, ok := domain.IsProductNotFound(err); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": nf.Error(), "productId": nf.ProductID})
			return
		}
		if is, ok := domain.IsInsufficientStock(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": is.Error(), "productId": is.ProductID})
			return
		}
		h.logger.WithError(err).Error("order mutation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
