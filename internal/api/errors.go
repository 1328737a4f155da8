package api

import (
	"errors"
	"net/http"

	"saldo/internal/core"
)

// Error codes carried in the envelope. Clients map on the code, not the
// HTTP status, so statuses can stay conventional.
const (
	CodeInvalidAmount    = "invalid_amount"
	CodeInvalidRequest   = "invalid_request"
	CodeOverclearing     = "overclearing"
	CodeUnknownMember    = "unknown_member"
	CodeAlreadySettled   = "already_settled"
	CodePermissionDenied = "permission_denied"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeInternal         = "internal"
)

// ErrorFromDomain maps a domain error to its wire envelope and HTTP
// status. Validation failures surface verbatim with their corrected
// numeric context; nothing is coerced into a default success.
func ErrorFromDomain(err error) (int, Error) {
	var oc *core.OverclearingError
	switch {
	case errors.As(err, &oc):
		return http.StatusUnprocessableEntity, Error{
			Code:      CodeOverclearing,
			Message:   oc.Error(),
			Remaining: oc.Remaining.String(),
		}
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, Error{Code: CodeInvalidAmount, Message: err.Error()}
	case errors.Is(err, core.ErrInvalidDate), errors.Is(err, core.ErrEmptyDescription):
		return http.StatusUnprocessableEntity, Error{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, core.ErrUnknownMember):
		return http.StatusUnprocessableEntity, Error{Code: CodeUnknownMember, Message: err.Error()}
	case errors.Is(err, core.ErrAlreadySettled):
		return http.StatusConflict, Error{Code: CodeAlreadySettled, Message: err.Error()}
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden, Error{Code: CodePermissionDenied, Message: err.Error()}
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, Error{Code: CodeConflict, Message: err.Error()}
	default:
		return http.StatusInternalServerError, Error{Code: CodeInternal, Message: "internal error"}
	}
}

// ErrorToDomain maps a wire envelope back to the domain taxonomy. The
// inverse of ErrorFromDomain, used by the HTTP authority client.
func ErrorToDomain(e Error) error {
	switch e.Code {
	case CodeOverclearing:
		remaining, err := core.ParseAmount(e.Remaining)
		if err != nil {
			// The authority reported overclearing but the remaining
			// figure is unusable; keep the classification.
			return &core.OverclearingError{}
		}
		return &core.OverclearingError{Remaining: remaining}
	case CodeInvalidAmount:
		return core.ErrInvalidAmount
	case CodeInvalidRequest:
		return core.ErrInvalidAmount
	case CodeUnknownMember:
		return core.ErrUnknownMember
	case CodeAlreadySettled:
		return core.ErrAlreadySettled
	case CodePermissionDenied:
		return core.ErrPermissionDenied
	case CodeNotFound:
		return core.ErrNotFound
	case CodeConflict:
		return core.ErrConflict
	default:
		return errors.New(e.Message)
	}
}
