// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error body has the shape {"error": "<message>"}:
//
//	httputil.WriteSuccess(w, subscription)
//	httputil.WriteCreated(w, result)
//	httputil.WriteBadRequest(w, "invalid tenant_id")
//	httputil.WriteConflict(w, "payment verification already in progress")
//
// # Request Parsing
//
//	var req changePlanRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	tenantID, err := httputil.ParseQueryUUID(r, "tenant_id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggerMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: caller identity and rate limiting
//   - pkg/observability: the logger the middleware writes to
package httputil
