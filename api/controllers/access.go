package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursepass/coursepass-backend/api/responses"
	"github.com/coursepass/coursepass-backend/internal/access"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

type accessResponse struct {
	HasAccess bool `json:"has_access"`
}

// AccessStatus reports whether the authenticated user may view the resource
// named in the path; without a resource id it answers the overall
// entitlement question. The check is evaluated at read time, so a lapsed end
// date denies access even before the expiry sweep runs.
func AccessStatus(evaluator *access.Evaluator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if evaluator == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "access evaluator unavailable"))
			return
		}

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		allowed, err := evaluator.HasAccess(r.Context(), userID, chi.URLParam(r, "resourceID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accessResponse{HasAccess: allowed})
	}
}
