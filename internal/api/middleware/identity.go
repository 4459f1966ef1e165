// identity.go - идентификация пользователя по заголовкам запроса.
// Транспорт (бот, шлюз) передаёт идентификатор отправителя и, для
// пересланных сообщений, идентификатор исходного отправителя.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apierrors "github.com/Adalik1/AdalikM-BOT/internal/api/errors"
)

// Заголовки запроса.
const (
	HeaderRequesterID     = "X-Requester-ID"
	HeaderForwardedOrigin = "X-Forwarded-Origin-ID"
	HeaderRequestID       = "X-Request-ID"
)

// maxIdentityLen - максимальная длина идентификатора в заголовке.
const maxIdentityLen = 128

// contextKey - тип ключа для значений в context.
type contextKey string

const (
	contextKeyRequester       contextKey = "requester_id"
	contextKeyForwardedOrigin contextKey = "forwarded_origin_id"
	contextKeyRequestID       contextKey = "request_id"
)

// RequestID присваивает запросу идентификатор. Значение из заголовка
// X-Request-ID используется, если оно есть, иначе генерируется UUID.
// Идентификатор возвращается в ответе тем же заголовком.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > maxIdentityLen {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRequester требует заголовок X-Requester-ID и кладёт его в context
// вместе с необязательным X-Forwarded-Origin-ID.
func RequireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester := strings.TrimSpace(r.Header.Get(HeaderRequesterID))
		if requester == "" {
			apierrors.Unauthorized(w, "Не указан заголовок "+HeaderRequesterID)
			return
		}
		origin := strings.TrimSpace(r.Header.Get(HeaderForwardedOrigin))
		if len(requester) > maxIdentityLen || len(origin) > maxIdentityLen {
			apierrors.ValidationError(w, "Слишком длинный идентификатор пользователя")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyRequester, requester)
		ctx = context.WithValue(ctx, contextKeyForwardedOrigin, origin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequesterIDFromContext извлекает идентификатор пользователя из context.
func RequesterIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequester).(string)
	return id
}

// ForwardedOriginFromContext извлекает идентификатор исходного отправителя.
// Пустая строка - сообщение не пересылалось.
func ForwardedOriginFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyForwardedOrigin).(string)
	return id
}

// RequestIDFromContext извлекает идентификатор запроса из context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
