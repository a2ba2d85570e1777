package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger интерфейс для логирования ошибок
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler обрабатывает panic в горутинах
type RecoveryHandler struct {
	mu     sync.RWMutex
	logger Logger
}

// NewRecoveryHandler создает новый обработчик
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SetLogger заменяет логгер, например после инициализации logger.Log.
func (rh *RecoveryHandler) SetLogger(logger Logger) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.logger = logger
}

func (rh *RecoveryHandler) handlePanic(kind string) {
	if r := recover(); r != nil {
		rh.mu.RLock()
		l := rh.logger
		rh.mu.RUnlock()
		l.Errorf("Panic in goroutine%s: %v\nStack trace:\n%s", kind, r, debug.Stack())
	}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go func() {
		defer rh.handlePanic("")
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer rh.handlePanic(" (with context)")
		fn(ctx)
	}()
}

// DefaultRecoveryHandler - глобальный обработчик, по умолчанию пишет в стандартный logrus
var DefaultRecoveryHandler = NewRecoveryHandler(logrus.StandardLogger())

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}
