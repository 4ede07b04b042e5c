package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

// writeServiceError maps billing errors onto HTTP statuses: validation 400,
// not found 404, verification in progress 409, anything else 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var ve *billing.ValidationError
	switch {
	case errors.As(err, &ve):
		httputil.WriteValidationErrors(w, ve.Error(), ve.Reasons)
	case billing.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, billing.ErrVerificationInProgress):
		httputil.WriteConflict(w, err.Error())
	default:
		logger(r).WithError(err).WithField("operation", operation).Error("Billing operation failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
