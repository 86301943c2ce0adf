package types

import (
	"errors"
	"fmt"
)

// ErrorCode 表示检索引擎统一的错误码。
type ErrorCode string

// 检索错误码
const (
	ErrEmptyIndex     ErrorCode = "EMPTY_INDEX"      // 索引为空，无可检索内容（致命）
	ErrSignalTimeout  ErrorCode = "SIGNAL_TIMEOUT"   // 单路信号超时（可降级）
	ErrRerankTimeout  ErrorCode = "RERANK_TIMEOUT"   // 重排序超时（回退原始顺序）
	ErrBudgetTooSmall ErrorCode = "BUDGET_TOO_SMALL" // token 预算容不下任何候选（致命）
	ErrAllSignals     ErrorCode = "ALL_SIGNALS_FAILED"
	ErrInvalidConfig  ErrorCode = "INVALID_CONFIG"
	ErrStoreFailure   ErrorCode = "STORE_FAILURE"
	ErrEmbedFailure   ErrorCode = "EMBED_FAILURE" // 查询向量化失败（稠密信号降级）
	ErrTokenizerError ErrorCode = "TOKENIZER_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Signal    string    `json:"signal,omitempty"` // 产生错误的信号（dense|sparse|graph）
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSignal 标注错误来源的检索信号。
func (e *Error) WithSignal(signal string) *Error {
	e.Signal = signal
	return e
}

// WithRetryable 标注错误是否可重试。
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsCode 判断错误链中是否存在指定错误码。
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
