package http

import (
	"errors"
	"net/http"

	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// statusFor maps workflow errors onto HTTP statuses. Missing documents also
// return the list of absent requirements.
func statusFor(err error) (int, interface{}) {
	var missing *domainwf.MissingDocumentsError
	switch {
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, missing.Missing
	case domainwf.IsTransient(err):
		return http.StatusServiceUnavailable, nil
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound, nil
	case errors.Is(err, domainwf.ErrForbidden):
		return http.StatusForbidden, nil
	case errors.Is(err, domainwf.ErrCommentRequired),
		errors.Is(err, domainwf.ErrInvalidLineItems),
		errors.Is(err, domainwf.ErrInvalidState),
		errors.Is(err, domainwf.ErrGuardFailed):
		return http.StatusUnprocessableEntity, nil
	case errors.Is(err, domainwf.ErrInvalidTransition),
		errors.Is(err, domainwf.ErrStaleWrite),
		errors.Is(err, domainwf.ErrDuplicateLiquidation),
		errors.Is(err, domainwf.ErrActiveRequestExists),
		errors.Is(err, domainwf.ErrDuplicateMonth),
		errors.Is(err, domainwf.ErrNotEditable):
		return http.StatusConflict, nil
	default:
		return http.StatusInternalServerError, nil
	}
}
