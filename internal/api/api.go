package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"pantry-service/internal/apperr"
	"pantry-service/internal/auth"
	"pantry-service/internal/entity"
	"pantry-service/internal/idempotency"
	"pantry-service/internal/service"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

const HeaderIdempotentKey = "Idempotent-Key"

// settleTimeout bounds the write that completes or frees an idempotent key.
const settleTimeout = 5 * time.Second

type PantryHandler struct {
	ledger      *service.LedgerService
	carts       *service.CartService
	fulfillment *service.FulfillmentService
	history     *service.HistoryService
	idem        idempotency.Store
	revoked     auth.RevocationList
}

// NewPantryHandler creates a new instance of PantryHandler. idem may be nil,
// in which case Idempotent-Key headers are ignored.
func NewPantryHandler(ledger *service.LedgerService, carts *service.CartService, fulfillment *service.FulfillmentService,
	history *service.HistoryService, idem idempotency.Store, revoked auth.RevocationList) *PantryHandler {
	return &PantryHandler{
		ledger:      ledger,
		carts:       carts,
		fulfillment: fulfillment,
		history:     history,
		idem:        idem,
		revoked:     revoked,
	}
}

type validatable interface {
	Validate() error
}

// bind decodes the body into req and runs its validation.
func bind(c echo.Context, req validatable) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request payload")
	}
	return req.Validate()
}

func principal(c echo.Context) auth.Principal {
	p, _ := auth.PrincipalFrom(c)
	return p
}

// Health --> /health
func (h *PantryHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "pantry-service",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// ListItems lists the inventory --> GET /inventory?available=true
func (h *PantryHandler) ListItems(c echo.Context) error {
	onlyAvailable, _ := strconv.ParseBool(c.QueryParam("available"))
	items, err := h.ledger.ListItems(c.Request().Context(), onlyAvailable)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []*entity.Item{}
	}
	return c.JSON(http.StatusOK, items)
}

// ListLowStock --> GET /inventory/low-stock
func (h *PantryHandler) ListLowStock(c echo.Context) error {
	items, err := h.ledger.ListLowStock(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []*entity.Item{}
	}
	return c.JSON(http.StatusOK, items)
}

// GetItem --> GET /inventory/:id
func (h *PantryHandler) GetItem(c echo.Context) error {
	item, err := h.ledger.GetItem(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// CreateItem --> POST /inventory
func (h *PantryHandler) CreateItem(c echo.Context) error {
	req := &createItemRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	item, err := h.fulfillment.CreateItem(c.Request().Context(), principal(c).UserID, req.NewItem)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

// UpdateItem overwrites administrative fields --> PUT /inventory/:id
func (h *PantryHandler) UpdateItem(c echo.Context) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return writeError(c, apperr.Validation("invalid request payload"))
	}
	for _, field := range protectedFields {
		if _, ok := raw[field]; ok {
			return writeError(c, apperr.Validation("%s cannot be changed through update", field))
		}
	}

	var patch entity.ItemPatch
	for field, dst := range map[string]any{"name": &patch.Name, "category": &patch.Category, "threshold": &patch.Threshold} {
		if v, ok := raw[field]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return writeError(c, apperr.Validation("invalid value for %s", field))
			}
		}
	}

	item, err := h.ledger.UpdateItem(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// DeleteItem --> DELETE /inventory/:id
func (h *PantryHandler) DeleteItem(c echo.Context) error {
	if err := h.ledger.DeleteItem(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Item deleted"})
}

// ValidateStock checks lines without changing anything --> POST /inventory/validate
func (h *PantryHandler) ValidateStock(c echo.Context) error {
	req := &validateRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	if err := h.ledger.Validate(c.Request().Context(), req.Type, req.Items); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

// Restock --> POST /inventory/restock
func (h *PantryHandler) Restock(c echo.Context) error {
	req := &restockRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	p := principal(c)
	return h.idempotent(c, p, func() (int, any, error) {
		res, err := h.fulfillment.Restock(c.Request().Context(), p.UserID, req.Items)
		return http.StatusCreated, res, err
	})
}

// Withdraw records a direct withdrawal on behalf of a user --> POST /inventory/withdraw
func (h *PantryHandler) Withdraw(c echo.Context) error {
	req := &withdrawRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	p := principal(c)
	userID, requesterID := req.UserID, p.UserID
	if userID == "" || userID == p.UserID {
		userID, requesterID = p.UserID, ""
	}
	return h.idempotent(c, p, func() (int, any, error) {
		res, err := h.fulfillment.Withdraw(c.Request().Context(), userID, req.ItemID, req.Quantity, requesterID)
		return http.StatusCreated, res, err
	})
}

// GetCart --> GET /cart
func (h *PantryHandler) GetCart(c echo.Context) error {
	cart, err := h.carts.Get(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// AddToCart --> POST /cart/items
func (h *PantryHandler) AddToCart(c echo.Context) error {
	req := &cartLinesRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	cart, err := h.carts.AddLines(c.Request().Context(), principal(c).UserID, req.Lines())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// UpdateCartLine --> PUT /cart/items/:itemId
func (h *PantryHandler) UpdateCartLine(c echo.Context) error {
	req := &quantityRequest{}
	if err := bind(c, req); err != nil {
		return writeError(c, err)
	}
	cart, err := h.carts.SetQuantity(c.Request().Context(), principal(c).UserID, c.Param("itemId"), *req.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// RemoveCartLine --> DELETE /cart/items/:itemId
func (h *PantryHandler) RemoveCartLine(c echo.Context) error {
	cart, err := h.carts.RemoveLine(c.Request().Context(), principal(c).UserID, c.Param("itemId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// Checkout --> POST /cart/checkout
func (h *PantryHandler) Checkout(c echo.Context) error {
	p := principal(c)
	return h.idempotent(c, p, func() (int, any, error) {
		res, err := h.fulfillment.Checkout(c.Request().Context(), p.UserID)
		return http.StatusCreated, res, err
	})
}

// ListOrders --> GET /orders?mine=true. Only administrators see every order.
func (h *PantryHandler) ListOrders(c echo.Context) error {
	p := principal(c)
	mine, _ := strconv.ParseBool(c.QueryParam("mine"))
	return h.listOrders(c, p, mine || !p.IsAdmin())
}

// ListMyOrders --> GET /orders/my
func (h *PantryHandler) ListMyOrders(c echo.Context) error {
	return h.listOrders(c, principal(c), true)
}

func (h *PantryHandler) listOrders(c echo.Context, p auth.Principal, mine bool) error {
	orders, err := h.history.ListOrders(c.Request().Context(), p.UserID, mine)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, orders)
}

// GetTransaction --> GET /transactions/:id
func (h *PantryHandler) GetTransaction(c echo.Context) error {
	detail, err := h.history.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// Logout revokes the presented token --> POST /logout
func (h *PantryHandler) Logout(c echo.Context) error {
	if err := auth.Logout(c, h.revoked); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out"})
}

// idempotent runs a batch once per Idempotent-Key and principal. A key that
// already completed replays the stored response; a failed run frees the key.
func (h *PantryHandler) idempotent(c echo.Context, p auth.Principal, run func() (int, any, error)) error {
	key := c.Request().Header.Get(HeaderIdempotentKey)
	if key == "" || h.idem == nil {
		status, body, err := run()
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(status, body)
	}

	ctx := c.Request().Context()
	scoped := p.UserID + ":" + c.Path() + ":" + key
	stored, err := h.idem.Reserve(ctx, scoped)
	if err != nil {
		return writeError(c, err)
	}
	if stored != nil {
		return c.JSONBlob(stored.Status, stored.Body)
	}

	// The key is settled even when the client went away or run panicked,
	// otherwise it would stay pending until it expires.
	completed := false
	defer func() {
		if completed {
			return
		}
		sctx, cancel := settleContext(ctx)
		defer cancel()
		if err := h.idem.Release(sctx, scoped); err != nil {
			logger.Error().Err(err).Msgf("Error releasing idempotent key %s", key)
		}
	}()

	status, body, err := run()
	if err != nil {
		return writeError(c, err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return writeError(c, err)
	}
	completed = true

	sctx, cancel := settleContext(ctx)
	defer cancel()
	if err := h.idem.Complete(sctx, scoped, &idempotency.Response{Status: status, Body: data}); err != nil {
		logger.Error().Err(err).Msgf("Error storing response for idempotent key %s", key)
	}
	return c.JSONBlob(status, data)
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
