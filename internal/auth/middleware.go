package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// CredentialFromRequest extracts a bearer credential from the Authorization
// header or, for browser WebSocket clients that cannot set headers, from the
// "token" query parameter.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request and stores the identity in the
// request context. Refusals get a 401 with the refusal reason.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Context(), CredentialFromRequest(r))
			if err != nil {
				WriteRefusal(w, http.StatusUnauthorized, Reason(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects requests whose identity has none of roles. It must run
// after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				WriteRefusal(w, http.StatusUnauthorized, ErrNoCredential.Error())
				return
			}
			if !allowed[id.Role] {
				log.Printf("🔐 Role %q denied for %s %s", id.Role, r.Method, r.URL.Path)
				WriteRefusal(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRefusal writes the JSON error envelope {"message": ...}.
func WriteRefusal(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
