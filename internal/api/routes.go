package api

import (
	"github.com/labstack/echo/v4"

	"pantry-service/internal/auth"
)

// RegisterRoutes mounts every pantry endpoint on e. Account routes need a
// bearer token; the student cart routes use the X-Session-Id header.
func (h *PantryHandler) RegisterRoutes(e *echo.Echo, jwtSecret []byte) {
	e.GET("/health", h.Health)

	// Anonymous student carts
	student := e.Group("/cart/student", auth.Session())
	student.GET("", h.GetCart)
	student.POST("/items", h.AddToCart)
	student.PUT("/items/:itemId", h.UpdateCartLine)
	student.DELETE("/items/:itemId", h.RemoveCartLine)
	student.POST("/checkout", h.Checkout)

	jwt := auth.JWT(jwtSecret, h.revoked)
	admin := auth.RequireRole(auth.RoleAdmin)

	inventory := e.Group("/inventory", jwt)
	inventory.GET("", h.ListItems)
	inventory.GET("/low-stock", h.ListLowStock)
	inventory.POST("/validate", h.ValidateStock)
	inventory.GET("/:id", h.GetItem)
	inventory.POST("", h.CreateItem, admin)
	inventory.PUT("/:id", h.UpdateItem, admin)
	inventory.DELETE("/:id", h.DeleteItem, admin)
	inventory.POST("/restock", h.Restock, admin)
	inventory.POST("/withdraw", h.Withdraw, admin)

	cart := e.Group("/cart", jwt)
	cart.GET("", h.GetCart)
	cart.POST("/items", h.AddToCart)
	cart.PUT("/items/:itemId", h.UpdateCartLine)
	cart.DELETE("/items/:itemId", h.RemoveCartLine)
	cart.POST("/checkout", h.Checkout)

	orders := e.Group("/orders", jwt)
	orders.GET("", h.ListOrders)
	orders.GET("/my", h.ListMyOrders)

	e.GET("/transactions/:id", h.GetTransaction, jwt, admin)
	e.POST("/logout", h.Logout, jwt)
}
