package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	// HeaderIdempotencyKey — ключ идемпотентности запроса.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, взятых из сохранённой записи.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

// idempotent сохраняет ответ под ключом Idempotency-Key и отдаёт его повторно
// на запрос с тем же ключом и телом. Ключ изолирован по пользователю. Запрос
// без заголовка обрабатывается как обычно.
func idempotent(repo domain.IdempotencyRepository, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, decodeError(err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			actor := actorFrom(r.Context())
			key := domain.ScopedIdempotencyKey(actor.UserID, rawKey)
			logger := loggerFrom(r.Context()).WithField("idempotency_key", rawKey)

			record, err := repo.CreateProcessing(r.Context(), key, requestHash(r, body), now().Add(domain.DefaultIdempotencyTTL))
			if err != nil {
				replayIdempotency(w, r, err, record)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= 200 && status < 300 {
				err = repo.MarkDone(r.Context(), key, buf.Bytes(), status)
			} else {
				err = repo.MarkFailed(r.Context(), key, buf.Bytes(), status)
			}
			if err != nil {
				logger.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func replayIdempotency(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		respondError(w, http.StatusUnprocessableEntity, CodeIdempotencyMismatch,
			"idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderIdempotentReplay, "true")
			w.WriteHeader(status)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			respondError(w, http.StatusConflict, CodeIdempotencyProcessing,
				"request with the same idempotency key is already processing")
		default:
			writeError(w, r, errors.New("unknown idempotency record status"))
		}
	default:
		loggerFrom(r.Context()).WithError(createErr).Warn("failed to create idempotency record")
		writeError(w, r, createErr)
	}
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
