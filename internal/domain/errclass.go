package domain

import "fmt"

// ErrorClass — класс ошибки выполнения task.
//
// Класс определяет поведение диспетчера: retry с backoff или
// терминальный FAILED с немедленным репортом наверх.
type ErrorClass string

const (
	// ErrorClassValidation — невалидный или неполный входной документ.
	// Терминальная, не ретраится, не расходует бюджет попыток.
	ErrorClassValidation ErrorClass = "VALIDATION"

	// ErrorClassTransient — транспортная ошибка (таймаут, connection reset)
	// или временная ошибка сервера (5xx, 429). Ретраится с backoff.
	ErrorClassTransient ErrorClass = "TRANSIENT"

	// ErrorClassAuth — внешний API отверг учётные данные.
	// Клиент уже выполнил обязательную одноразовую реаутентификацию;
	// повторная попытка идёт через общий бюджет диспетчера.
	ErrorClassAuth ErrorClass = "AUTH"

	// ErrorClassBusiness — внешний API явно отклонил семантику запроса (4xx).
	// Терминальная, текст ответа передаётся наверх как есть.
	ErrorClassBusiness ErrorClass = "BUSINESS"

	// ErrorClassInfra — недоступна собственная инфраструктура шлюза
	// (БД, брокер). Ретраится.
	ErrorClassInfra ErrorClass = "INFRA"
)

// Retryable возвращает true, если ошибки этого класса можно ретраить.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassTransient, ErrorClassAuth, ErrorClassInfra:
		return true
	default:
		return false
	}
}

// Стабильные коды ошибок, попадающие в Task.ErrorCode.
// Коды — контракт с workflow-движком: по ним ветвится процесс.
const (
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrCodeAuthRejected        = "AUTH_REJECTED"
	ErrCodeBusinessRejected    = "BUSINESS_REJECTED"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeUnknownTopic        = "UNKNOWN_TOPIC"
)

// ClassifiedError — ошибка с классом и стабильным кодом.
//
// Все ошибки, пересекающие границу «обработчик → диспетчер»,
// должны быть классифицированы; неклассифицированный error
// трактуется диспетчером как TRANSIENT.
type ClassifiedError struct {
	Class   ErrorClass
	Code    string
	Message string

	// Cause — исходная ошибка, если есть.
	Cause error
}

// Error реализует интерфейс error.
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Class, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Class, e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Retryable возвращает true, если ошибку можно ретраить.
func (e *ClassifiedError) Retryable() bool {
	return e.Class.Retryable()
}

// NewClassifiedError создаёт классифицированную ошибку.
func NewClassifiedError(class ErrorClass, code, message string) *ClassifiedError {
	return &ClassifiedError{Class: class, Code: code, Message: message}
}

// WrapClassified оборачивает исходную ошибку классом и кодом.
func WrapClassified(class ErrorClass, code, message string, cause error) *ClassifiedError {
	return &ClassifiedError{Class: class, Code: code, Message: message, Cause: cause}
}

// AsClassified извлекает *ClassifiedError из цепочки ошибок.
// Для неклассифицированных ошибок возвращает TRANSIENT-обёртку:
// неизвестная ошибка считается временной и уходит в retry-бюджет.
func AsClassified(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	for e := err; e != nil; {
		if ce, ok := e.(*ClassifiedError); ok {
			return ce
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return WrapClassified(ErrorClassTransient, ErrCodeUpstreamError, err.Error(), err)
}
