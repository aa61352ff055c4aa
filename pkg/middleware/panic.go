package middleware

import (
	"fmt"
	"net/http"

	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
)

const panicLocation = "http"

// PanicRecovery recovers handler panics, reports them to the logger and
// error tracker, counts them and answers 500 with a JSON error body.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				metrics.GetProvider().RecordPanic(panicLocation)
				err := logger.HandlePanic(fmt.Sprintf("%s %s", r.Method, r.URL.Path), rcv, r.Context())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal_error","message":%q}`, err.Error())
			}
		}()
		next.ServeHTTP(w, r)
	})
}
