package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/ignatzorin/settlement-backend/internal/dto"
)

// RateLimitMiddleware ограничивает частоту запросов. Авторизованные запросы
// считаются по пользователю, остальные по IP. Каждый вызов создаёт свой счётчик.
func RateLimitMiddleware(limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = 1 * time.Minute
	}

	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: period,
		Limit:  limit,
	})

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if raw, ok := c.Get(ContextUserIDKey); ok {
			if userID, ok := raw.(uuid.UUID); ok {
				key = "user:" + userID.String()
			}
		}

		lctx, err := instance.Get(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error: "слишком много запросов, попробуйте позже",
				Code:  "RATE_LIMITED",
			})
			return
		}

		c.Next()
	}
}
