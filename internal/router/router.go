package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/moxun/seatpool/internal/handler"    // import the handlers that implement business logic
	"github.com/moxun/seatpool/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the buyer-facing endpoints.  These carry no
// session; the buyer identifies by email and order number.  The rate
// limiter guards them because each redemption attempt contends on the
// engine's pool locks.
func RegisterPublic(e *echo.Echo, r *handler.RedeemHandler, o *handler.OrderHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", limiter)
	// Exchange a redemption code for a seat on an account.
	g.POST("/redeem", r.Redeem)
	// Create a payment order and receive the signed checkout redirect.
	g.POST("/orders", o.Create)
	// Poll an order's status; unpaid orders are reconciled by active query.
	g.GET("/orders/:no", o.Get)
}

// RegisterWebhooks registers the gateway notification callbacks.  The
// gateways call these directly, retrying until they read the bare-text
// "success" body, so no auth or rate limiting applies here.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	// Some gateways notify by GET with everything in the query string,
	// others POST a form body.  Both land on the same handler.
	e.GET("/notify/:gateway", w.Notify)
	e.POST("/notify/:gateway", w.Notify)
}

// RegisterAdmin registers the operator login plus the authenticated admin
// surface.  Everything under /v1/admin requires a valid access token with
// the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, adm *handler.AdminHandler, jwtSecret string) {
	// Login lives outside the protected group; it issues the token the
	// group requires.
	e.POST("/v1/auth/login", a.Login)

	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN"))

	g.GET("/me", a.Me)

	// Order operations.
	g.GET("/orders", adm.ListOrders)
	g.GET("/orders/:no", adm.GetOrder)
	g.POST("/orders/:no/sync", adm.SyncOrder)
	g.POST("/orders/:no/refund", adm.RefundOrder)
	g.POST("/orders/:no/expire", adm.ExpireOrder)

	// Code inventory.
	g.GET("/codes", adm.ListCodes)
	g.POST("/codes/:id/reserve", adm.ReserveCode)
}
