package rest

import (
	"net/http"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeEntitlementDenied:
		return http.StatusForbidden
	case errs.CodeConcurrencyLimit, errs.CodeAlreadyActive, errs.CodeCapacityExceeded:
		return http.StatusConflict
	case errs.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its code. Internal failures are logged and
// their details hidden from the caller.
func writeError(ctx *gin.Context, logger *zap.Logger, err error) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Error(err))
		ctx.JSON(status, gin.H{"code": code, "error": "internal error"})
		return
	}
	ctx.JSON(status, gin.H{"code": code, "error": err.Error()})
}
