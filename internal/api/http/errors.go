package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnsupportedLanguage:
		return http.StatusUnprocessableEntity
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindInfra:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string      `json:"error"`
	Code  string      `json:"code"`
	Extra interface{} `json:"result,omitempty"`
}

func (h *Handlers) respondError(c *gin.Context, err error, result interface{}) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindInfra {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(StatusFor(kind), errorBody{
		Error: apperr.Message(err),
		Code:  kind.String(),
		Extra: result,
	})
}
