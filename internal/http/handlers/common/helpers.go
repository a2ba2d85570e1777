package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/http/middleware"
	"github.com/ignatzorin/settlement-backend/internal/logger"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

var (
	// ErrUserNotFound is returned when user is not found in context
	ErrUserNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID is returned when UUID parsing fails
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentUserID extracts user ID from Gin context
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// CurrentActor builds the acting principal from the authenticated context.
// A token with an unknown role is rejected rather than downgraded.
func CurrentActor(c *gin.Context) (entity.Actor, error) {
	userID, err := CurrentUserID(c)
	if err != nil {
		return entity.Actor{}, err
	}

	role := valueobject.Role(c.GetString(middleware.ContextRoleKey))
	if !role.IsValid() {
		return entity.Actor{}, ErrUserNotFound
	}

	return entity.Actor{ID: userID, Role: role}, nil
}

// ParseUUIDParam parses UUID from URL parameter
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// RespondError sends a standardized error response
func RespondError(c *gin.Context, statusCode int, code apperror.ErrorCode, message string) {
	c.JSON(statusCode, dto.ErrorResponse{Error: message, Code: string(code)})
}

// RespondAppError maps a service error to its HTTP status and stable code.
// Internal details of 5xx errors never reach the client.
func RespondAppError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(err, apperror.ErrCodeInternal, "внутренняя ошибка сервера")
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError || appErr.Code == apperror.ErrCodeIntegrity {
		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"code":   appErr.Code,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request failed")
		}
	}

	message := appErr.Message
	if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeTimeout {
		message = "внутренняя ошибка сервера"
	}
	RespondError(c, appErr.HTTPStatus, appErr.Code, message)
}

// RespondSuccess sends a standardized success response
func RespondSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, dto.SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// RespondList sends a page of items with its total count
func RespondList(c *gin.Context, items interface{}, total, limit, offset int) {
	c.JSON(http.StatusOK, dto.NewListResponse(items, total, limit, offset))
}

// RespondUnauthorized sends a 401 Unauthorized response
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, apperror.ErrCodeUnauthorized, message)
}

// RespondBadRequest sends a 400 Bad Request response
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, apperror.ErrCodeBadRequest, message)
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
