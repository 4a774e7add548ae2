package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tripnest/booking-payments/pkg/cache"
	"github.com/tripnest/booking-payments/pkg/logger"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// IdempotencyCache stores responses by key
type IdempotencyCache interface {
	Begin(ctx context.Context, key string) (*cache.StoredResponse, error)
	Complete(ctx context.Context, key string, resp cache.StoredResponse) error
	Abandon(ctx context.Context, key string) error
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the actor. Every completed response is stored, because
// a failed create may already have persisted a booking. When required is
// true requests without a key are rejected.
func Idempotency(store IdempotencyCache, required bool, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderIdempotencyKey)
		if raw == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Idempotency-Key header required",
					"code":  "INVALID_INPUT",
				})
				return
			}
			c.Next()
			return
		}
		if len(raw) > 255 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Idempotency-Key is too long",
				"code":  "INVALID_INPUT",
			})
			return
		}

		key := c.GetHeader(HeaderActorID) + ":" + raw
		ctx := c.Request.Context()

		stored, err := store.Begin(ctx, key)
		switch {
		case errors.Is(err, cache.ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "A request with this Idempotency-Key is still being processed",
				"code":  "DUPLICATE_REQUEST",
			})
			return
		case err != nil:
			log.Error("Idempotency store unavailable", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
				"code":  "INTERNAL_ERROR",
			})
			return
		case stored != nil:
			log.Info("Returning cached response", logger.String("idempotency_key", raw))
			c.Header(HeaderReplayed, "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			c.Abort()
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec

		defer func() {
			if p := recover(); p != nil {
				_ = store.Abandon(context.Background(), key)
				panic(p)
			}
		}()
		c.Next()

		if !c.Writer.Written() {
			_ = store.Abandon(ctx, key)
			return
		}
		resp := cache.StoredResponse{Status: c.Writer.Status(), Body: rec.body.Bytes()}
		if err := store.Complete(context.Background(), key, resp); err != nil {
			log.Error("Failed to store idempotent response",
				logger.String("idempotency_key", raw),
				logger.Err(err),
			)
		}
	}
}
