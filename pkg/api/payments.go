package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

type createPaymentRequest struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PaymentType    string     `json:"payment_type"`
	Periods        int        `json:"periods"`
	PlanID         *uuid.UUID `json:"plan_id"`
	Provider       string     `json:"provider"`
	Email          string     `json:"email"`
	CallbackURL    string     `json:"callback_url"`
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SubscriptionID == uuid.Nil {
		httputil.WriteBadRequest(w, "subscription_id is required")
		return
	}

	result, err := s.payments.CreatePayment(r.Context(), billing.CreatePaymentRequest{
		SubscriptionID: req.SubscriptionID,
		PaymentType:    billing.PaymentType(strings.ToLower(strings.TrimSpace(req.PaymentType))),
		Periods:        req.Periods,
		PlanID:         req.PlanID,
		Provider:       strings.ToLower(strings.TrimSpace(req.Provider)),
		Email:          strings.TrimSpace(req.Email),
		CallbackURL:    req.CallbackURL,
		Actor:          actorFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, "create_payment", err)
		return
	}
	httputil.WriteCreated(w, result)
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(mux.Vars(r)["transaction_id"])
	if transactionID == "" {
		httputil.WriteBadRequest(w, "transaction_id is required")
		return
	}
	p, err := s.payments.VerifyPayment(r.Context(), transactionID)
	if err != nil {
		writeServiceError(w, r, "verify_payment", err)
		return
	}
	httputil.WriteSuccess(w, p)
}
