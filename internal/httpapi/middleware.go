package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/reqcontext"
)

// RequestIDMiddleware extracts or generates a request ID for each request,
// setting the response header before the handler runs so it is present
// even if the handler panics.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providedID := r.Header.Get(reqcontext.RequestIDHeader)
		requestID := reqcontext.GetOrGenerateRequestID(providedID)

		w.Header().Set(reqcontext.RequestIDHeader, requestID)
		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDLoggerMiddleware attaches a per-request logger carrying the
// request ID (and correlation ID, if present) to the context. Must be
// registered after RequestIDMiddleware.
func RequestIDLoggerMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := reqcontext.GetRequestID(ctx)
			requestLogger := logger.With("request_id", requestID)
			if correlationID := reqcontext.GetCorrelationID(ctx); correlationID != "" {
				requestLogger = requestLogger.With("correlation_id", correlationID)
			}
			ctx = WithLogger(ctx, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type loggerKeyType struct{}

var loggerKey = loggerKeyType{}

// WithLogger attaches a per-request logger to the context.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger retrieves the per-request logger, or a no-op logger if absent.
func GetLogger(ctx context.Context) *zap.SugaredLogger {
	if ctx == nil {
		return zap.NewNop().Sugar()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && logger != nil {
		return logger
	}
	return zap.NewNop().Sugar()
}
