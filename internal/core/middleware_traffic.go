package core

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compressMinSize keeps tiny responses (ping, auth failures) uncompressed.
const compressMinSize = 1024

// compressMiddleware gzips responses for clients that send Accept-Encoding.
// Debug reports with many users are the only large bodies this service
// produces.
func (s *Server) compressMiddleware() func(http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(compressMinSize))
	if err != nil {
		s.Logger.Error("gzip middleware disabled", "error", err)
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}
}
