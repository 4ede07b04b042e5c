package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

func (s *Server) listAutoRenewals(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.ParseQueryUUID(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	renewals, err := s.renewals.ListAutoRenewals(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, "list_auto_renewals", err)
		return
	}
	if renewals == nil {
		renewals = []*billing.AutoRenewal{}
	}
	httputil.WriteSuccess(w, renewals)
}

type processDueRequest struct {
	DryRun        bool       `json:"dry_run"`
	TenantID      *uuid.UUID `json:"tenant_id"`
	AutoRenewalID *uuid.UUID `json:"auto_renewal_id"`
	Force         bool       `json:"force"`
}

func (s *Server) processDueRenewals(w http.ResponseWriter, r *http.Request) {
	var req processDueRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	summary, err := s.renewals.ProcessDueRenewals(r.Context(), billing.DueRenewalOptions{
		DryRun:        req.DryRun,
		TenantID:      req.TenantID,
		AutoRenewalID: req.AutoRenewalID,
		Force:         req.Force,
	})
	if err != nil {
		writeServiceError(w, r, "process_due_renewals", err)
		return
	}
	httputil.WriteSuccess(w, summary)
}
