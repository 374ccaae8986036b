// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Responses are JSON; errors use the body {"error": "..."}:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteForbidden(w, "insufficient permissions")
//	httputil.WriteDetailedError(w, http.StatusBadRequest, "validation failed", details)
//
// Request bodies are decoded strictly:
//
//	var req AssignRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
// Middleware helpers:
//
//	httputil.Chain(httputil.ContentTypeMiddleware, httputil.MaxBytesMiddleware(1<<20))
package httputil
