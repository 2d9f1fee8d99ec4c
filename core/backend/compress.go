package backend

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// handleCompression gzips or deflates responses for clients which accept it
func (b *Backend) handleCompression() {
	b.router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	})
}
