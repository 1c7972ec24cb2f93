package handler

import (
	"net/http" // HTTP status codes
	"net/url"  // notification parameter bag

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/moxun/seatpool/internal/engine" // webhook reconciler
)

// WebhookHandler receives payment-gateway notifications.  Gateways deliver
// the same parameters by GET query string or POST form body and expect a
// bare-text acknowledgement; anything but "success" makes them retry.
type WebhookHandler struct {
	Rec *engine.Reconciler
}

func NewWebhookHandler(r *engine.Reconciler) *WebhookHandler {
	if r == nil {
		panic("nil reconciler passed to NewWebhookHandler")
	}
	return &WebhookHandler{Rec: r}
}

// Notify handles GET|POST /notify/:gateway.  The response is always HTTP
// 200 with a bare token: gateways key their retry loop off the body, not
// the status code.
func (h *WebhookHandler) Notify(c echo.Context) error {
	params := url.Values{}
	if c.Request().Method == http.MethodPost {
		form, err := c.FormParams()
		if err != nil {
			return c.String(http.StatusOK, engine.AckFail)
		}
		params = form
	}
	// Query parameters participate either way; GET-style gateways send
	// everything there.
	for k, vs := range c.QueryParams() {
		if params.Get(k) == "" {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
	}

	ack := h.Rec.HandleNotification(c.Param("gateway"), params)
	return c.String(http.StatusOK, ack)
}
