package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 业务错误类别，闭合集合，调用方可穷举处理
type Kind int

const (
	KindValidation     Kind = iota + 1 // 参数校验失败
	KindConflict                       // 状态冲突（重复申请、已拉黑等）
	KindNotFound                       // 记录不存在
	KindAuthorization                  // 无权操作（非好友、被拉黑等）
	KindAuthentication                 // 认证失败（令牌过期、被撤销等）
	KindTransientStore                 // 存储暂时不可用，由调用方决定是否重试
	KindInternal                       // 未预期的内部错误
)

// 认证失败原因
const (
	ReasonExpiredOrMalformed = "expired_or_malformed" // 签名无效或已过期
	ReasonRevoked            = "revoked"              // 签名有效但已被服务端撤销
)

// Error 带类别的业务错误
type Error struct {
	Kind   Kind
	Msg    string
	Reason string // 仅认证错误使用
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配，支持 errors.Is(err, &Error{Kind: KindConflict})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

func Authentication(reason, msg string) *Error {
	return &Error{Kind: KindAuthentication, Reason: reason, Msg: msg}
}

func TransientStore(msg string, err error) *Error {
	return &Error{Kind: KindTransientStore, Msg: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf 提取错误类别，非本包错误视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus 类别到 HTTP 状态码的统一映射
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
