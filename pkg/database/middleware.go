package database

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/scope"
)

// WithRequestScope creates middleware that begins a scope for each request.
// Pooled connections borrowed while handling the request are returned to
// their pools after the handler returns.
func WithRequestScope(logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, s := scope.Begin(r.Context())
			defer s.End()

			if ce := logger.Check(zap.DebugLevel, "Request scope started"); ce != nil {
				ce.Write(zap.String("scope_id", s.ID()), zap.String("path", r.URL.Path))
			}

			next(w, r.WithContext(ctx))
		}
	}
}
