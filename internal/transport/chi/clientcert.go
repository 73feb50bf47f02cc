package chi

import (
	"net/http"
)

// ClientCertPolicy restricts callers to verified TLS client certificates.
type ClientCertPolicy struct {
	Enabled bool
	// AllowedSubjects lists accepted certificate subjects, matched against the
	// common name or the full distinguished name. Empty accepts any verified certificate.
	AllowedSubjects []string
}

// ClientCertMiddleware rejects requests without a verified client certificate
// whose subject is allowed. Disabled policies pass everything through.
func ClientCertMiddleware(policy ClientCertPolicy) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(policy.AllowedSubjects))
	for _, s := range policy.AllowedSubjects {
		if s != "" {
			allowed[s] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if !policy.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
				writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "client certificate required")
				return
			}

			if len(allowed) > 0 {
				leaf := r.TLS.VerifiedChains[0][0]
				_, byCN := allowed[leaf.Subject.CommonName]
				_, byDN := allowed[leaf.Subject.String()]
				if !byCN && !byDN {
					writeError(w, http.StatusForbidden, ErrorCodeForbidden, "client certificate subject not allowed")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
