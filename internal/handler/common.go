package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moxun/seatpool/internal/engine"
)

// engineError translates an engine failure into the HTTP response for it.
// Structured engine errors carry their own status and a caller-safe message;
// anything else is a bare 500 so internals never leak to buyers.
func engineError(c echo.Context, err error) error {
	if e := engine.AsEngineError(err); e != nil {
		return c.JSON(e.HTTPStatus(), echo.Map{"error": e.Message, "kind": string(e.Kind)})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
