package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler recovers panics in next and answers with an InternalError.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", r.Header.Get("X-Request-ID")),
					)
					WriteError(w, NewInternalError(r.Header.Get("X-Request-ID"), nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs err with its request ID, expanding CitegateError fields.
func LogError(logger *zap.Logger, err error, requestID string) {
	var cerr *CitegateError
	if As(err, &cerr) {
		logger.Error("request error",
			zap.String("error_type", string(cerr.Type)),
			zap.String("message", cerr.Message),
			zap.Int("code", cerr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", cerr.Details),
			zap.NamedError("cause", cerr.Unwrap()),
		)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
