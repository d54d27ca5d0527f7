package middleware

import (
	"net/http"

	"github.com/finwise/authcore/csrf"
)

// safeMethods are exempt from the double-submit check per RFC 9110
// semantics: they must not change state server-side.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// RequireCSRF enforces the double-submit check on every mutating request:
// the token in the csrf cookie must equal the one in the X-CSRF-Token
// header. Any missing or mismatched half gets a 403.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethods[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrf.CookieName)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if err := csrf.Validate(cookie.Value, r.Header.Get(csrf.HeaderName)); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
