package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-logs", h.listEntries).Methods("GET")
	router.HandleFunc("/audit-logs/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit-logs/stats", h.getStats).Methods("GET")
	router.HandleFunc("/audit-logs/{id}", h.getEntry).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/audit-logs", h.listSubscriptionEntries).Methods("GET")
}

// listEntries handles GET /audit-logs
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, page)
}

// listSubscriptionEntries handles GET /subscriptions/{id}/audit-logs
func (h *Handlers) listSubscriptionEntries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid subscription ID")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.SubscriptionID = &id

	page, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, page)
}

// getEntry handles GET /audit-logs/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid audit entry ID")
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrEntryNotFound) {
		httputil.WriteNotFoundError(w, "audit entry not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, entry)
}

// exportEntries handles GET /audit-logs/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.Write(data)
}

// getStats handles GET /audit-logs/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	startTime, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endTime, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		return filter, err
	}

	if s := query.Get("subscription_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, fmt.Errorf("invalid subscription_id: %s", s)
		}
		filter.SubscriptionID = &id
	}

	if s := query.Get("tenant_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, fmt.Errorf("invalid tenant_id: %s", s)
		}
		filter.TenantID = &id
	}

	actions := parseCommaSeparated(query.Get("actions"))
	if a := query.Get("action"); a != "" {
		actions = append(actions, a)
	}
	for _, a := range actions {
		action := Action(a)
		if !action.Valid() {
			return filter, fmt.Errorf("unknown action: %s", a)
		}
		filter.Actions = append(filter.Actions, action)
	}

	filter.User = query.Get("user")

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, fmt.Errorf("invalid limit: %s", limitStr)
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return filter, fmt.Errorf("invalid offset: %s", offsetStr)
		}
		filter.Offset = offset
	}

	filter.SortOrder = query.Get("sort_order")
	filter.Normalize()

	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339", key)
	}
	return &t, nil
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, part := range strings.Split(s, ",") {
		if val := strings.TrimSpace(part); val != "" {
			result = append(result, val)
		}
	}
	return result
}
