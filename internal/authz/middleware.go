package authz

import (
	"net/http"
)

// Require wraps a handler with an authorization check. objectRel maps the
// request to an (object, relation) pair; returning empty strings skips the
// check for that request.
func Require(c Client, objectRel func(*http.Request) (string, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			obj, rel := objectRel(r)
			if obj == "" || rel == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := Can(r.Context(), c, r, obj, rel)
			if err != nil {
				http.Error(w, "authorization error", http.StatusForbidden)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
