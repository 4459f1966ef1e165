package middleware

import (
	"net/http"

	apierrors "github.com/Adalik1/AdalikM-BOT/internal/api/errors"
)

// Limiter - ограничитель частоты запросов одного пользователя.
type Limiter interface {
	Allow(id string) bool
}

// RateLimit отклоняет запрос с 429, если пользователь обращается
// чаще минимального интервала. Должен стоять после RequireRequester.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(RequesterIDFromContext(r.Context())) {
				apierrors.RateLimited(w, "Слишком частые запросы, подождите немного")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
