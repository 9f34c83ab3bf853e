package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/atelier/pkg/api"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The server continues to
// accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				slog.Error("handler panic",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", fmt.Sprint(rv),
				)
				WriteErrorResponse(w, api.NewServerError(fmt.Sprintf("internal server error: %v", rv)), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
