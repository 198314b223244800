package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"pantry-service/internal/apperr"
)

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindEmptyCart:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInsufficientStock, apperr.KindItemGone:
		return http.StatusConflict
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "kind", ...details}.
func writeError(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	body := map[string]any{
		"error": err.Error(),
		"kind":  kind,
	}

	var ae *apperr.Error
	if errors.As(err, &ae) && ae.ItemID != "" {
		body["item_id"] = ae.ItemID
		if kind == apperr.KindInsufficientStock {
			body["available"] = ae.Available
			body["requested"] = ae.Requested
		}
	}
	if apperr.Retryable(err) {
		body["retryable"] = true
	}
	if kind == apperr.KindInternal {
		logger.Error().Err(err).Msgf("Unhandled error on %s %s", c.Request().Method, c.Path())
		body["error"] = "internal error"
	}
	return c.JSON(statusOf(kind), body)
}
