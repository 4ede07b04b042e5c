package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

type createSubscriptionRequest struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	PlanID        uuid.UUID `json:"plan_id"`
	IsTrial       bool      `json:"is_trial"`
	MachineNumber string    `json:"machine_number"`
	UserEmail     string    `json:"user_email"`
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == uuid.Nil {
		httputil.WriteBadRequest(w, "tenant_id is required")
		return
	}
	if !req.IsTrial && req.PlanID == uuid.Nil {
		httputil.WriteBadRequest(w, "plan_id is required")
		return
	}

	result, err := s.subs.CreateSubscription(r.Context(), billing.CreateRequest{
		TenantID:      req.TenantID,
		PlanID:        req.PlanID,
		IsTrial:       req.IsTrial,
		MachineNumber: req.MachineNumber,
		UserEmail:     req.UserEmail,
		Actor:         actorFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, "create_subscription", err)
		return
	}
	httputil.WriteCreated(w, result)
}

type activateTrialRequest struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	MachineNumber string    `json:"machine_number"`
	UserEmail     string    `json:"user_email"`
}

func (s *Server) activateTrial(w http.ResponseWriter, r *http.Request) {
	var req activateTrialRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == uuid.Nil {
		httputil.WriteBadRequest(w, "tenant_id is required")
		return
	}

	result, err := s.subs.ActivateTrial(r.Context(), req.TenantID, req.MachineNumber, req.UserEmail, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "activate_trial", err)
		return
	}
	httputil.WriteCreated(w, result)
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.ParseQueryUUID(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	subs, err := s.subs.ListSubscriptions(r.Context(), billing.SubscriptionFilter{
		TenantID: tenantID,
		Statuses: statuses,
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, r, "list_subscriptions", err)
		return
	}
	if subs == nil {
		subs = []*billing.Subscription{}
	}
	httputil.WriteSuccess(w, subs)
}

// parseStatuses reads a comma separated status filter such as "active,trial"
func parseStatuses(raw string) ([]billing.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []billing.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, ok := billing.ParseStatus(part)
		if !ok {
			return nil, fmt.Errorf("invalid status: %s", part)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.subs.GetSubscription(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get_subscription", err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) renewSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.subs.RenewSubscription(r.Context(), id, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "renew_subscription", err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) extendSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	result, err := s.subs.ExtendSubscription(r.Context(), id, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "extend_subscription", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type advanceRenewalRequest struct {
	Periods *int       `json:"periods"`
	PlanID  *uuid.UUID `json:"plan_id"`
}

func (s *Server) advanceRenewal(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req advanceRenewalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	periods := 1
	if req.Periods != nil {
		periods = *req.Periods
	}

	result, err := s.subs.RenewInAdvance(r.Context(), billing.AdvanceRenewalRequest{
		SubscriptionID: id,
		Periods:        periods,
		PlanID:         req.PlanID,
		Actor:          actorFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, "advance_renewal", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) suspendSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req suspendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub, err := s.subs.SuspendSubscription(r.Context(), id, actorFrom(r), req.Reason)
	if err != nil {
		writeServiceError(w, r, "suspend_subscription", err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

type changePlanRequest struct {
	NewPlanID uuid.UUID `json:"new_plan_id"`
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req changePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.NewPlanID == uuid.Nil {
		httputil.WriteBadRequest(w, "new_plan_id is required")
		return
	}

	change := billing.ChangePlanRequest{
		SubscriptionID: id,
		NewPlanID:      req.NewPlanID,
		Actor:          actorFrom(r),
	}
	if err := s.subs.ValidatePlanChangeRequest(r.Context(), change); err != nil {
		writeServiceError(w, r, "change_plan", err)
		return
	}

	result, err := s.subs.ChangePlan(r.Context(), change)
	if err != nil {
		writeServiceError(w, r, "change_plan", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type toggleAutoRenewRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) toggleAutoRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req toggleAutoRenewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.WriteBadRequest(w, "enabled is required")
		return
	}

	result, err := s.subs.ToggleAutoRenew(r.Context(), id, *req.Enabled, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "toggle_auto_renew", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type changeCardRequest struct {
	Provider          string `json:"provider"`
	AuthorizationCode string `json:"authorization_code"`
}

func (s *Server) changeCard(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req changeCardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := s.renewals.ChangeCard(r.Context(), billing.ChangeCardRequest{
		SubscriptionID:    id,
		Provider:          req.Provider,
		AuthorizationCode: req.AuthorizationCode,
		Actor:             actorFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, "change_card", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) listCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	credits, err := s.subs.ListCredits(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "list_credits", err)
		return
	}
	if credits == nil {
		credits = []*billing.Credit{}
	}
	httputil.WriteSuccess(w, credits)
}

func (s *Server) checkExpired(w http.ResponseWriter, r *http.Request) {
	dryRun, err := httputil.ParseQueryBool(r, "dry_run", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	result, err := s.subs.CheckExpiredSubscriptions(r.Context(), billing.SweepOptions{DryRun: dryRun})
	if err != nil {
		writeServiceError(w, r, "check_expired", err)
		return
	}
	httputil.WriteSuccess(w, result)
}
