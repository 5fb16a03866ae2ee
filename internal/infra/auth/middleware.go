package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/media-policy-plane/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, за которым прячется проверка RS256 токена
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const (
	CtxUserID ctxKey = "user_id"
	CtxScopes ctxKey = "user_scopes"
)

// UserID безопасно достает идентификатор оператора из контекста запроса.
// Пустая строка означает неаутентифицированный контекст (тесты, внутренние вызовы).
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxUserID).(string); ok {
		return id
	}
	return ""
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), CtxScopes, claims.Scopes)
			ctx = context.WithValue(ctx, CtxUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
