package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// UUIDValidator проверяет, что параметр с указанным именем является валидным UUID.
// Использование: router.GET("/bookings/:id", UUIDValidator("id"), handler.GetBooking)
func UUIDValidator(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param(paramName)
		if idStr == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: "параметр " + paramName + " обязателен",
				Code:  string(apperror.ErrCodeBadRequest),
			})
			return
		}

		if _, err := uuid.Parse(idStr); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: "параметр " + paramName + " должен быть валидным UUID",
				Code:  string(apperror.ErrCodeBadRequest),
			})
			return
		}

		c.Next()
	}
}
