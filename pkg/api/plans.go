package api

import (
	"net/http"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	plans, err := s.subs.ListPlans(r.Context(), billing.PlanFilter{
		Industry:   r.URL.Query().Get("industry"),
		ActiveOnly: !includeInactive,
	})
	if err != nil {
		writeServiceError(w, r, "list_plans", err)
		return
	}
	if plans == nil {
		plans = []*billing.Plan{}
	}
	httputil.WriteSuccess(w, plans)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	plan, err := s.subs.GetPlan(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get_plan", err)
		return
	}
	httputil.WriteSuccess(w, plan)
}
