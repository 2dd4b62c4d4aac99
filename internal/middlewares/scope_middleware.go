package middlewares

import (
	"net/http"

	"formapi/internal/services"
)

// RequestScope gives every request its own project cache. It must wrap
// Alias so that alias lookups are cached for the rest of the request.
func RequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.NewRequestContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Alias rewrites subdomain and path aliases onto /project/:id before the
// router sees the request.
func Alias(resolver *services.AliasResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := resolver.Resolve(r.Context(), r.Host, r.URL.Path)

			if result.ProjectID != "" {
				if scope := services.ScopeFrom(r.Context()); scope != nil {
					scope.SetProjectID(result.ProjectID)
				}
			}

			if result.Rewritten {
				u := *r.URL
				u.Path = result.Path
				u.RawPath = ""
				r = r.Clone(r.Context())
				r.URL = &u
			}

			next.ServeHTTP(w, r)
		})
	}
}
