package access

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/supportdesk/core/logger"
)

// BackdoorMiddlewareBuilder is a helper builder for BackdoorMiddelware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddelware returns a middleware handler for a backdoor
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Roles:[]string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized with the admin role.
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie with
// -b 'Supportdesk-JWT=please'
//
// Unknown tokens are passed on untouched, so the backdoor can be installed before
// the jwt middleware.
func NewBackdoorMiddelware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := tokenFromRequest(r)
			if len(tokenString) == 0 || bmb.Backdoors == nil {
				h.ServeHTTP(w, r)
				return
			}
			if tryAuth, ok := bmb.Backdoors[tokenString]; ok {
				auth := tryAuth
				ctx, rlog := logger.ContextWithLoggerIdentity(r.Context(), auth.ID.String())
				rlog.Debugln("authorized through backdoor")
				r = r.WithContext(ContextWithAuthorization(ctx, &auth))
			}
			h.ServeHTTP(w, r)
		})
	}
}
