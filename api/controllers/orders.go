package controllers

import (
	"net/http"

	"github.com/coursepass/coursepass-backend/api/responses"
	orderssvc "github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

func newOrderListResponse(orders []models.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}

// MyOrders lists the authenticated user's orders, newest first.
func MyOrders(svc *orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListResponse(orders))
	}
}
