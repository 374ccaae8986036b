package auth

import "time"

// Method describes how a request was authenticated
type Method string

const (
	MethodStaticToken Method = "static_token"
	MethodSession     Method = "session"
)

// AuthContext holds the authenticated caller of a request.
// Authorization data is not carried here; it is loaded per request
// from the user store by the permission middleware.
type AuthContext struct {
	UserID          string    `json:"user_id"`
	Method          Method    `json:"method"`
	TokenPrefix     string    `json:"token_prefix,omitempty"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// IsAuthenticated reports whether the context identifies a user
func (ac *AuthContext) IsAuthenticated() bool {
	return ac != nil && ac.UserID != ""
}
