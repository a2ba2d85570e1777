package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidActor      ErrorCode = "INVALID_ACTOR"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodePrecondition      ErrorCode = "PRECONDITION_FAILED"
	ErrCodeNotEligible       ErrorCode = "NOT_ELIGIBLE"
	ErrCodeAlreadyProcessed  ErrorCode = "ALREADY_PROCESSED"
	ErrCodeAlreadySent       ErrorCode = "ALREADY_SENT"
	ErrCodeAlreadyCaptured   ErrorCode = "ALREADY_CAPTURED"
	ErrCodeAlreadyTerminal   ErrorCode = "ALREADY_TERMINAL"
	ErrCodeIntegrity         ErrorCode = "INTEGRITY"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с предопределёнными значениями.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidActor:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidTransition, ErrCodeAlreadyProcessed, ErrCodeAlreadySent,
		ErrCodeAlreadyCaptured, ErrCodeAlreadyTerminal:
		return http.StatusConflict
	case ErrCodePrecondition:
		return http.StatusPreconditionFailed
	case ErrCodeNotEligible:
		return http.StatusUnprocessableEntity
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// As извлекает AppError из цепочки.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf возвращает код ошибки или INTERNAL_ERROR для неизвестных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode проверяет код ошибки в цепочке.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

// FromContext переводит истёкший дедлайн в TIMEOUT: результат операции неизвестен.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeTimeout, "время операции истекло, результат неизвестен: перечитайте состояние перед повтором")
	}
	return err
}

var (
	ErrBookingNotFound  = New(ErrCodeNotFound, "бронирование не найдено")
	ErrServiceNotFound  = New(ErrCodeNotFound, "услуга не найдена")
	ErrDisputeNotFound  = New(ErrCodeNotFound, "спор не найден")
	ErrCampaignNotFound = New(ErrCodeNotFound, "рассылка не найдена")
	ErrDeliveryNotFound = New(ErrCodeNotFound, "запись доставки не найдена")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden        = New(ErrCodeForbidden, "недостаточно прав")
	ErrSelfBooking      = New(ErrCodeInvalidActor, "нельзя забронировать собственную услугу")
	ErrAlreadyCaptured  = New(ErrCodeAlreadyCaptured, "оплата по бронированию уже получена")
	ErrAlreadyTerminal  = New(ErrCodeAlreadyTerminal, "бронирование уже завершено или отменено")
	ErrStatusConflict   = New(ErrCodeConflict, "статус уже изменён другим запросом")
	ErrActiveDispute    = New(ErrCodeConflict, "по бронированию уже открыт спор")
	ErrCampaignSent     = New(ErrCodeAlreadySent, "рассылка уже отправлена")
)
