package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/auth"
	"github.com/smallbiznis/loyalty/internal/authorization"
	confirmationdomain "github.com/smallbiznis/loyalty/internal/confirmation/domain"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/principal"
	qrtokendomain "github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

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
		c.Header("Content-Type", "application/json")
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindingError turns validator failures into per-field validation errors.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		field := toSnakeCase(fe.Field())
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    "invalid_" + field,
			Message: fe.Tag() + " validation failed",
		})
	}
	return out
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isRescanRequiredError(err):
		return http.StatusConflict, errorPayload{
			Type:    "rescan_required",
			Code:    err.Error(),
			Message: "the code is no longer valid, ask the customer to show a new one",
		}
	case errors.Is(err, ledgerdomain.ErrConcurrencyConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    ledgerdomain.ErrConcurrencyConflict.Error(),
			Message: "the account changed concurrently, retry",
		}
	case isLedgerRejectedError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "ledger_rejected",
			Code:    ledgerRejectedCode(err),
			Message: "the ledger rejected the operation",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many scans, slow down",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = payload.Type
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, scansessiondomain.ErrInvalidMode),
		errors.Is(err, scansessiondomain.ErrNoRewardsSelected),
		errors.Is(err, scansessiondomain.ErrInvalidQuantity),
		errors.Is(err, confirmationdomain.ErrInvalidPoints),
		errors.Is(err, confirmationdomain.ErrModeMismatch),
		errors.Is(err, confirmationdomain.ErrEmptyRedemption),
		errors.Is(err, ledgerdomain.ErrInvalidPoints),
		errors.Is(err, ledgerdomain.ErrInvalidStatus),
		errors.Is(err, ledgerdomain.ErrInvalidBusiness),
		errors.Is(err, ledgerdomain.ErrInvalidConsumer),
		errors.Is(err, directorydomain.ErrInvalidBusiness),
		errors.Is(err, directorydomain.ErrInvalidLocation),
		errors.Is(err, rewardtierdomain.ErrInactiveRewardTier),
		errors.Is(err, rewardtierdomain.ErrInvalidName),
		errors.Is(err, rewardtierdomain.ErrInvalidRequiredPoints),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrMemberMismatch),
		errors.Is(err, principal.ErrUnauthenticated),
		errors.Is(err, directorydomain.ErrMemberNotFound),
		errors.Is(err, directorydomain.ErrMemberInactive):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, principal.ErrNotConsumer),
		errors.Is(err, principal.ErrNotBusinessStaff):
		return true
	default:
		return false
	}
}

// isRescanRequiredError covers every token and session lifecycle failure.
// The staff app reacts to all of them the same way.
func isRescanRequiredError(err error) bool {
	switch {
	case errors.Is(err, qrtokendomain.ErrTokenNotFound),
		errors.Is(err, qrtokendomain.ErrTokenExpired),
		errors.Is(err, qrtokendomain.ErrTokenRevoked),
		errors.Is(err, qrtokendomain.ErrTokenAlreadyConsumed),
		errors.Is(err, scansessiondomain.ErrSessionNotFound),
		errors.Is(err, scansessiondomain.ErrSessionExpired),
		errors.Is(err, scansessiondomain.ErrSessionAlreadyClosed),
		errors.Is(err, scansessiondomain.ErrBusinessMismatch),
		errors.Is(err, confirmationdomain.ErrSessionAlreadyConsumed),
		errors.Is(err, ledgerdomain.ErrSessionAlreadyApplied):
		return true
	default:
		return false
	}
}

func isLedgerRejectedError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrAccountSuspended),
		errors.Is(err, ledgerdomain.ErrAccountClosed),
		errors.Is(err, ledgerdomain.ErrInsufficientPoints),
		errors.Is(err, ledgerdomain.ErrInvalidStatusTransition):
		return true
	default:
		return false
	}
}

func ledgerRejectedCode(err error) string {
	for _, known := range []error{
		ledgerdomain.ErrAccountSuspended,
		ledgerdomain.ErrAccountClosed,
		ledgerdomain.ErrInsufficientPoints,
		ledgerdomain.ErrInvalidStatusTransition,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "ledger_rejected"
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, rewardtierdomain.ErrRewardTierNotFound),
		errors.Is(err, rewardtierdomain.ErrProgramNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidPageToken):
		return "invalid_page_token"
	default:
		for _, known := range []error{
			scansessiondomain.ErrInvalidMode,
			scansessiondomain.ErrNoRewardsSelected,
			scansessiondomain.ErrInvalidQuantity,
			confirmationdomain.ErrInvalidPoints,
			confirmationdomain.ErrModeMismatch,
			confirmationdomain.ErrEmptyRedemption,
			ledgerdomain.ErrInvalidPoints,
			ledgerdomain.ErrInvalidStatus,
			directorydomain.ErrInvalidBusiness,
			directorydomain.ErrInvalidLocation,
			rewardtierdomain.ErrInactiveRewardTier,
			rewardtierdomain.ErrInvalidName,
			rewardtierdomain.ErrInvalidRequiredPoints,
			auditdomain.ErrInvalidTimeRange,
		} {
			if errors.Is(err, known) {
				return known.Error()
			}
		}
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "no_rewards_selected":
		return "select at least one reward"
	case "mode_mismatch":
		return "the session was prepared for another mode"
	case "inactive_reward_tier":
		return "reward is not available"
	default:
		return "invalid value"
	}
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
