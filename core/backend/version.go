package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if auth == nil {
			writeError(w, r, ErrUnauthorized)
			return
		}
		if !auth.HasRole(access.RoleAdmin) {
			writeError(w, r, ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	}).Methods(b.methods(http.MethodGet)...)
}
