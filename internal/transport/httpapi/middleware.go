package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// HeaderUserID передаёт идентификатор вызывающего пользователя.
const HeaderUserID = "X-User-ID"

const maxRequestBodySize = 1 << 20

type ctxKey int

const (
	actorKey ctxKey = iota
	loggerKey
)

// ActorResolver превращает идентификатор пользователя в актора.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID string) (domain.Actor, error)
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}

func loggerFrom(ctx context.Context) *log.Entry {
	if logger, ok := ctx.Value(loggerKey).(*log.Entry); ok {
		return logger
	}
	return log.WithField("component", "http-api")
}

// requestLogger пишет одну запись logrus на запрос и кладёт логгер с
// request_id в контекст.
func requestLogger(base *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			logger := base.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))

			entry := logger.WithFields(log.Fields{
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request served")
				return
			}
			entry.Debug("request served")
		})
	}
}

// authenticate разрешает актора по заголовку X-User-ID. Роль берётся из
// записи пользователя, а не из запроса.
func authenticate(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing "+HeaderUserID+" header")
				return
			}

			actor, err := resolver.ResolveActor(r.Context(), userID)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(ctx).WithField("user_id", actor.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		next.ServeHTTP(w, r)
	})
}

func validationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, domain.ErrValidation)
}

// pageFromQuery читает page и size. Отсутствующие параметры дают нули.
func pageFromQuery(r *http.Request) (domain.Page, error) {
	var page domain.Page
	for name, dst := range map[string]*int{"page": &page.Page, "size": &page.Size} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return domain.Page{}, validationError(name + " must be a non-negative integer")
		}
		*dst = v
	}
	return page, nil
}

func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return validationError("request body too large")
	}
	return validationError("invalid JSON body")
}
