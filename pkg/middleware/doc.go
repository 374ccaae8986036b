// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware: bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(verifier, false)
//	router.Use(authMW.Handler)
//	// Puts an *auth.AuthContext into the request context
//
// RateLimitMiddleware: per-user (or per-IP for anonymous callers) limits,
// in memory or shared through Redis
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.DefaultRateLimitConfig(), "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, true).Handler)
//
// Authorization lives in pkg/rbac, which reads the auth context set here.
package middleware
