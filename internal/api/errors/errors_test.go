package errors //nolint:revive

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adalik1/AdalikM-BOT/internal/service"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		kind     service.Kind
		wantCode int
		wantErr  string
	}{
		{service.KindValidation, http.StatusBadRequest, CodeValidationError},
		{service.KindAuthorization, http.StatusForbidden, CodeForbidden},
		{service.KindNotFoundOrConsumed, http.StatusNotFound, CodeNotFoundOrConsumed},
		{service.KindExpired, http.StatusGone, CodeExpired},
		{service.KindDuplicate, http.StatusConflict, CodeDuplicate},
		{service.KindConflict, http.StatusServiceUnavailable, CodeConflict},
		{service.KindRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{service.KindDelivery, http.StatusBadGateway, CodeDeliveryFailed},
		{service.KindInternal, http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, &service.Error{Kind: tt.kind, Message: "сообщение"})

			if rec.Code != tt.wantCode {
				t.Errorf("статус %d, хотели %d", rec.Code, tt.wantCode)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.wantErr {
				t.Errorf("code = %q, хотели %q", body.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestWriteServiceError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, &service.Error{
		Kind:    service.KindInternal,
		Message: "Ошибка поиска ключа",
		Err:     stderrors.New("pq: password authentication failed"),
	})
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("причина ошибки попала в ответ: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
