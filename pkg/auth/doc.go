// Package auth identifies the caller of a request.
//
// The service does not issue sessions itself. A TokenVerifier maps the
// bearer token of a request to a user ID; StaticTokenVerifier serves
// development and operator tokens configured through RESIGATE_API_TOKENS.
//
//	tokens, err := auth.ParseStaticTokens("rg_abc=admin-1")
//	verifier := auth.NewStaticTokenVerifier(tokens)
//	authCtx, err := verifier.Verify(ctx, "rg_abc")
//
// Only SHA256 hashes of configured tokens are kept in memory.
package auth
