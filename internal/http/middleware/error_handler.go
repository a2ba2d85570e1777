package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/logger"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки, добавленные через c.Error, если хэндлер
// сам не записал ответ. Внутренние ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		statusCode := http.StatusInternalServerError
		resp := dto.ErrorResponse{Error: "внутренняя ошибка сервера", Code: string(apperror.ErrCodeInternal)}

		if appErr, ok := apperror.As(err); ok {
			statusCode = appErr.HTTPStatus
			resp.Code = string(appErr.Code)
			if statusCode < http.StatusInternalServerError {
				resp.Error = appErr.Message
			}
		}

		if statusCode >= http.StatusInternalServerError && logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		c.JSON(statusCode, resp)
	}
}
