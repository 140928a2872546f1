package observability

import (
	"net/http"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack trace and
// returns normally, keeping a background goroutine failure from
// taking down the process. Call it in a defer.
func RecoverPanic(logger *Logger, operation string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":     r,
			"operation": operation,
			"stack":     string(debug.Stack()),
		}).Error("Recovered from panic")
	}
}

// RecoveryMiddleware converts a handler panic into a 500 response
// instead of killing the connection, logging the stack trace with the
// request that triggered it.
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					}).Error("Recovered from handler panic")
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
