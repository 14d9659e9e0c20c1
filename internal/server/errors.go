package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	verifydomain "github.com/smallbiznis/enrollpay/internal/verification/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last error recorded on the context as
// a JSON body, unless a handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError translates domain sentinels into transport responses. Gateway
// failures deliberately share one generic message so that nothing about the
// provider conversation leaks to the caller.
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrInvalidCurrency),
		errors.Is(err, orderdomain.ErrInvalidPayer),
		errors.Is(err, orderdomain.ErrInvalidSubject),
		errors.Is(err, gatewaydomain.ErrInvalidClaim),
		errors.Is(err, gatewaydomain.ErrProviderNotFound):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "invalid request",
		}

	case errors.Is(err, orderdomain.ErrDuplicateActiveOrder),
		errors.Is(err, orderdomain.ErrConfirmationAlreadyUsed),
		errors.Is(err, orderdomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: "order state conflict",
		}

	case errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "order_not_found",
			Message: "order not found",
		}

	case errors.Is(err, verifydomain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "verification_failed",
			Code:    "amount_mismatch",
			Message: "payment could not be verified",
		}

	case errors.Is(err, gatewaydomain.ErrGatewayRejected),
		errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusBadGateway, errorPayload{
			Type:    "verification_failed",
			Code:    "gateway_rejected",
			Message: "payment could not be verified",
		}

	case errors.Is(err, gatewaydomain.ErrGatewayUnreachable):
		return http.StatusBadGateway, errorPayload{
			Type:    "verification_failed",
			Code:    "gateway_unreachable",
			Message: "payment could not be verified",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Code:    "internal_error",
		Message: "internal server error",
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
