package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkjha00007/resigate/pkg/auth"
	"github.com/kkjha00007/resigate/pkg/contextkeys"
)

func newTestVerifier() auth.TokenVerifier {
	return auth.NewStaticTokenVerifier(map[string]string{
		"rg_valid-token": "user-1",
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantError  string
		wantUserID string
	}{
		{
			name:       "missing header when required",
			wantStatus: http.StatusUnauthorized,
			wantError:  "missing authorization header",
		},
		{
			name:       "missing header when optional",
			optional:   true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong scheme",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid authorization header format",
		},
		{
			name:       "bearer without token",
			header:     "Bearer ",
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid authorization header format",
		},
		{
			name:       "unknown token",
			header:     "Bearer rg_unknown",
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid or expired token",
		},
		{
			name:       "unknown token is rejected even when optional",
			optional:   true,
			header:     "Bearer rg_unknown",
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid or expired token",
		},
		{
			name:       "valid token",
			header:     "Bearer rg_valid-token",
			wantStatus: http.StatusOK,
			wantUserID: "user-1",
		},
		{
			name:       "scheme is case insensitive",
			header:     "bearer rg_valid-token",
			wantStatus: http.StatusOK,
			wantUserID: "user-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(newTestVerifier(), tt.optional)

			var gotUserID string
			handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if authCtx := GetAuthContext(r); authCtx != nil {
					gotUserID = authCtx.UserID
					assert.Equal(t, authCtx.UserID, contextkeys.GetUserID(r.Context()))
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/rbac/me/permissions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
				assert.Equal(t, tt.wantError, decodeError(t, w))
			}
			assert.Equal(t, tt.wantUserID, gotUserID)
		})
	}
}

func TestGetAuthContext(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Nil(t, GetAuthContext(req))
	})

	t.Run("wrong type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithAuth(req.Context(), "not-an-auth-context"))
		assert.Nil(t, GetAuthContext(req))
	})

	t.Run("present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithAuth(req.Context(), &auth.AuthContext{UserID: "u1"}))
		require.NotNil(t, GetAuthContext(req))
		assert.Equal(t, "u1", GetAuthContext(req).UserID)
	})
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "authentication required", decodeError(t, w))
	})

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithAuth(req.Context(), &auth.AuthContext{UserID: "u1"}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
