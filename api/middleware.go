package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/bakery-ops/bakery"
	"go.uber.org/zap"
)

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// requestLogger logs one line per request once the response is written.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if actor, ok := actorFrom(r.Context()); ok {
				fields = append(fields, zap.String("actor", actor.UID))
			}
			log.Info("http request", fields...)
		})
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

// authenticate rejects requests without a valid bearer token and stores the
// resolved actor on the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		identity, err := h.Auth.Verify(r.Context(), token)
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, identity.Actor())
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func actorFrom(ctx context.Context) (bakery.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(bakery.Actor)
	return actor, ok
}

// actor returns the authenticated actor. Only call behind authenticate.
func actor(r *http.Request) bakery.Actor {
	a, _ := actorFrom(r.Context())
	return a
}
