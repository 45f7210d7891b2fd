package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	ownerContextKey      = "shop.owner_id"
	idempotencyKeyHeader = "Idempotency-Key"

	defaultIdempotencyTTL = 24 * time.Hour
)

func ownerFromContext(c *gin.Context) string {
	return c.GetString(ownerContextKey)
}

// RequestLogger логирует каждый запрос после обработки.
func RequestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("http request")
	}
}

// Authenticate проверяет bearer-токен и кладёт владельца в контекст.
// Любой маршрут /orders требует аутентификации.
func Authenticate(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ownerID, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ownerContextKey, ownerID)
		c.Next()
	}
}

// bodyRecorder дублирует тело ответа для сохранения в idempotency-записи.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// Idempotency обслуживает заголовок Idempotency-Key: повтор запроса с тем
// же ключом и телом воспроизводит сохранённый ответ вместо повторной
// мутации. Запрос без заголовка проходит насквозь.
func Idempotency(repo domain.IdempotencyRepository, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		sum := sha256.Sum256(body)
		requestHash := hex.EncodeToString(sum[:])
		ctx := c.Request.Context()

		record, err := repo.CreateProcessing(ctx, key, requestHash, time.Now().UTC().Add(defaultIdempotencyTTL))
		switch {
		case err == nil:
			// Новый ключ: выполняем мутацию и сохраняем результат.
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"error": "idempotency key was used with a different request body",
			})
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if record.Status == domain.IdempotencyStatusProcessing {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "request with this idempotency key is being processed",
				})
				return
			}
			c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
			c.Abort()
			return
		default:
			logger.WithError(err).Error("idempotency lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder

		// Паника обработчика перехватывается recovery-слоем выше, поэтому
		// сбой фиксируется здесь: иначе ключ останется в processing до
		// конца TTL и каждый повтор будет получать 409.
		finished := false
		defer func() {
			if finished {
				return
			}
			if err := repo.MarkFailed(ctx, key, nil, http.StatusInternalServerError); err != nil {
				logger.WithError(err).WithField("key", key).Error("failed to store idempotency result")
			}
		}()

		c.Next()
		finished = true

		status := recorder.Status()
		responseBody := append([]byte(nil), recorder.buf.Bytes()...)

		var markErr error
		if status >= 200 && status < 300 {
			markErr = repo.MarkDone(ctx, key, responseBody, status)
		} else {
			markErr = repo.MarkFailed(ctx, key, responseBody, status)
		}
		if markErr != nil {
			logger.WithError(markErr).WithField("key", key).Error("failed to store idempotency result")
		}
	}
}
