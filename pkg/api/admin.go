package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

func (s *Server) listBreakers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"breakers": s.breakers.Snapshot(),
	})
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.breakers.Reset(name) {
		httputil.WriteNotFoundError(w, "circuit breaker not found: "+name)
		return
	}
	logger(r).WithFields(map[string]interface{}{
		"breaker": name,
		"actor":   actorFrom(r).User,
	}).Warn("Circuit breaker reset")
	httputil.WriteSuccess(w, map[string]string{"reset": name})
}

func (s *Server) resetAllBreakers(w http.ResponseWriter, r *http.Request) {
	s.breakers.ResetAll()
	logger(r).WithField("actor", actorFrom(r).User).Warn("All circuit breakers reset")
	httputil.WriteSuccess(w, map[string]interface{}{
		"breakers": s.breakers.Snapshot(),
	})
}
