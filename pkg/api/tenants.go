package api

import (
	"net/http"

	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

func (s *Server) tenantAccess(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	decision, err := s.subs.CheckAccess(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, "check_access", err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

func (s *Server) tenantUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	report, err := s.subs.CheckUsageLimits(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, "check_usage", err)
		return
	}
	httputil.WriteSuccess(w, report)
}
