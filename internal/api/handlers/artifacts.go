// artifacts.go - HTTP handlers одноразовых ключей:
// загрузка файла, погашение ключа, статус, whoami и справка.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/Adalik1/AdalikM-BOT/internal/api/errors"
	"github.com/Adalik1/AdalikM-BOT/internal/api/middleware"
	"github.com/Adalik1/AdalikM-BOT/internal/config"
	"github.com/Adalik1/AdalikM-BOT/internal/service"
)

// multipartOverhead - запас на заголовки multipart сверх MaxBytes.
const multipartOverhead = 64 << 10

// maxKeyRequestBytes - максимальный размер тела запросов redeem/status.
const maxKeyRequestBytes = 16 << 10

// ArtifactsHandler - обработчик endpoints одноразовых ключей.
type ArtifactsHandler struct {
	ctrl   *service.RedemptionController
	cfg    *config.Config
	logger *slog.Logger
}

// NewArtifactsHandler создаёт обработчик.
func NewArtifactsHandler(ctrl *service.RedemptionController, cfg *config.Config, logger *slog.Logger) *ArtifactsHandler {
	return &ArtifactsHandler{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "artifacts_handler")),
	}
}

// submitResponse - ответ на загрузку файла.
type submitResponse struct {
	Key         string     `json:"key"`
	Filename    string     `json:"filename"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ExpiryHours int        `json:"expiry_hours"`
}

// keyRequest - тело запросов redeem и status.
type keyRequest struct {
	Text string `json:"text"`
}

// statusResponse - состояние ключа.
type statusResponse struct {
	State            string     `json:"state"`
	Filename         string     `json:"filename,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingHours   *int       `json:"remaining_hours,omitempty"`
	RemainingMinutes *int       `json:"remaining_minutes,omitempty"`
}

// whoamiResponse - идентификаторы из заголовков запроса.
type whoamiResponse struct {
	RequesterID       string `json:"requester_id"`
	ForwardedOriginID string `json:"forwarded_origin_id,omitempty"`
}

// helpCommand - описание одного endpoint в справке.
type helpCommand struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// helpResponse - справка по сервису.
type helpResponse struct {
	Service     string        `json:"service"`
	ExpiryHours int           `json:"expiry_hours"`
	MaxBytes    int64         `json:"max_bytes"`
	Commands    []helpCommand `json:"commands"`
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно). Ответ 201 с ключом.
func (h *ArtifactsHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.MaxBytes + multipartOverhead
	if r.ContentLength > limit {
		apierrors.FileTooLarge(w, fmt.Sprintf("Файл слишком большой (максимум %d байт)", h.cfg.MaxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полем 'file'")
		return
	}

	// Читаем части потоком до поля file, остальные поля пропускаем
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Поле 'file' обязательно")
			return
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apierrors.FileTooLarge(w, fmt.Sprintf("Файл слишком большой (максимум %d байт)", h.cfg.MaxBytes))
				return
			}
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		res, serr := h.ctrl.Submit(r.Context(), service.SubmitParams{
			RequesterID:       middleware.RequesterIDFromContext(r.Context()),
			ForwardedOriginID: middleware.ForwardedOriginFromContext(r.Context()),
			Reader:            part,
			Filename:          part.FileName(),
			ContentType:       part.Header.Get("Content-Type"),
		})
		_ = part.Close()
		if serr != nil {
			apierrors.WriteServiceError(w, serr)
			return
		}

		writeJSON(w, http.StatusCreated, submitResponse{
			Key:         res.Key,
			Filename:    res.Filename,
			ExpiresAt:   res.ExpiresAt,
			ExpiryHours: res.ExpiryHours,
		})
		return
	}
}

// RedeemKey обрабатывает POST /api/v1/redeem.
// При успехе тело ответа - содержимое файла, ключ становится использованным.
func (h *ArtifactsHandler) RedeemKey(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeKeyRequest(w, r)
	if !ok {
		return
	}

	// started - ответ уже начат, ошибку в формате JSON отправить нельзя
	started := false
	deliver := func(_ context.Context, filename string, data []byte) error {
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("запись ответа: %w", err)
		}
		return nil
	}

	_, serr := h.ctrl.Redeem(r.Context(), service.RedeemParams{
		RequesterID: middleware.RequesterIDFromContext(r.Context()),
		Text:        req.Text,
	}, deliver)
	if serr == nil {
		return
	}
	if started {
		h.logger.Warn("Передача файла прервана",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", serr.Error()),
		)
		return
	}
	apierrors.WriteServiceError(w, serr)
}

// KeyStatus обрабатывает POST /api/v1/status. Каталог не изменяется.
func (h *ArtifactsHandler) KeyStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeKeyRequest(w, r)
	if !ok {
		return
	}

	st, serr := h.ctrl.Status(r.Context(), req.Text)
	if serr != nil {
		apierrors.WriteServiceError(w, serr)
		return
	}

	resp := statusResponse{State: st.State, Filename: st.Filename, ExpiresAt: st.ExpiresAt}
	if st.State == service.StatusActive && st.ExpiresAt != nil {
		resp.RemainingHours = &st.Hours
		resp.RemainingMinutes = &st.Minutes
	}
	writeJSON(w, http.StatusOK, resp)
}

// Whoami обрабатывает GET /api/v1/whoami.
func (h *ArtifactsHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, whoamiResponse{
		RequesterID:       middleware.RequesterIDFromContext(r.Context()),
		ForwardedOriginID: middleware.ForwardedOriginFromContext(r.Context()),
	})
}

// Help обрабатывает GET /api/v1/help.
func (h *ArtifactsHandler) Help(w http.ResponseWriter, _ *http.Request) {
	expiry := fmt.Sprintf("Ключ действует %d ч", h.cfg.ExpiryHours)
	if h.cfg.ExpiryHours == 0 {
		expiry = "Ключ действует бессрочно"
	}
	writeJSON(w, http.StatusOK, helpResponse{
		Service:     "adalikm",
		ExpiryHours: h.cfg.ExpiryHours,
		MaxBytes:    h.cfg.MaxBytes,
		Commands: []helpCommand{
			{http.MethodPost, "/api/v1/files", "Загрузить .txt файл и получить одноразовый ключ. " + expiry},
			{http.MethodPost, "/api/v1/redeem", "Получить файл по ключу. Ключ погашается после отправки"},
			{http.MethodPost, "/api/v1/status", "Проверить состояние ключа"},
			{http.MethodGet, "/api/v1/whoami", "Показать ваш идентификатор"},
			{http.MethodGet, "/health/live", "Проверить, что сервис работает"},
		},
	})
}

// decodeKeyRequest читает {"text": "..."}; при ошибке пишет ответ и возвращает false.
func (h *ArtifactsHandler) decodeKeyRequest(w http.ResponseWriter, r *http.Request) (keyRequest, bool) {
	var req keyRequest
	body := http.MaxBytesReader(w, r.Body, maxKeyRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Ожидается JSON вида {\"text\": \"...\"}")
		return req, false
	}
	return req, true
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
