package errmodel

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryNetwork    = "network"
	CategoryPolicy     = "policy"
	CategoryTool       = "tool"
	CategorySystem     = "system"
)

// Codes of the gateway error taxonomy.
const (
	CodeInvalidConfig         = "invalid_config"
	CodeInvalidArguments      = "invalid_arguments"
	CodeConnectionFailed      = "connection_failed"
	CodeAuthenticationFailed  = "authentication_failed"
	CodePermissionDenied      = "permission_denied"
	CodeTimeout               = "timeout"
	CodeProtocolError         = "protocol_error"
	CodeOperationNotSupported = "operation_not_supported"
	CodeExecutionFailed       = "execution_failed"
)

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidConfig         = &Error{Category: CategoryValidation, Code: CodeInvalidConfig}
	ErrInvalidArguments      = &Error{Category: CategoryValidation, Code: CodeInvalidArguments}
	ErrConnectionFailed      = &Error{Category: CategoryNetwork, Code: CodeConnectionFailed}
	ErrAuthenticationFailed  = &Error{Category: CategoryPolicy, Code: CodeAuthenticationFailed}
	ErrPermissionDenied      = &Error{Category: CategoryPolicy, Code: CodePermissionDenied}
	ErrTimeout               = &Error{Category: CategoryNetwork, Code: CodeTimeout}
	ErrProtocolError         = &Error{Category: CategoryTool, Code: CodeProtocolError}
	ErrOperationNotSupported = &Error{Category: CategoryTool, Code: CodeOperationNotSupported}
	ErrExecutionFailed       = &Error{Category: CategoryTool, Code: CodeExecutionFailed}
)

// Error is the compact error payload returned by adapters and the gateway.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`

	wrapped []error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the original causes to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.wrapped
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
		ce.wrapped = append(ce.wrapped, c)
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	// Default to system/internal for unknown error types.
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512), wrapped: []error{err}}
}

func InvalidConfig(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryValidation, CodeInvalidConfig, message, ctx, causes...)
}

func InvalidArguments(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryValidation, CodeInvalidArguments, message, ctx, causes...)
}

func ConnectionFailed(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryNetwork, CodeConnectionFailed, message, ctx, causes...)
}

func AuthenticationFailed(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryPolicy, CodeAuthenticationFailed, message, ctx, causes...)
}

func PermissionDenied(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryPolicy, CodePermissionDenied, message, ctx, causes...)
}

func Timeout(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryNetwork, CodeTimeout, message, ctx, causes...)
}

func ProtocolError(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryTool, CodeProtocolError, message, ctx, causes...)
}

func OperationNotSupported(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryTool, CodeOperationNotSupported, message, ctx, causes...)
}

func ExecutionFailed(message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryTool, CodeExecutionFailed, message, ctx, causes...)
}

// Transport classifies a transport-level failure. Deadlines become Timeout,
// everything else is reported with the fallback constructor.
func Transport(fallback func(string, map[string]any, ...error) *Error, message string, ctx map[string]any, err error) *Error {
	if ce := (*Error)(nil); errors.As(err, &ce) {
		return ce
	}
	if isTimeout(err) {
		return Timeout(message+": deadline exceeded", ctx, err)
	}
	return fallback(message, ctx, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HasCode reports whether err is a compact error carrying code.
func HasCode(err error, code string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

// Retryable reports whether a caller may reasonably retry after err
// (after reconnecting or refreshing credentials). The gateway never retries on its own.
func Retryable(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case CodeConnectionFailed, CodeAuthenticationFailed, CodeTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		switch e.Code {
		case "not_found":
			return http.StatusNotFound
		case CodeInvalidConfig:
			return http.StatusInternalServerError
		default:
			return http.StatusBadRequest
		}
	case CategoryPolicy:
		switch e.Code {
		case CodeAuthenticationFailed:
			return http.StatusUnauthorized
		default:
			return http.StatusForbidden
		}
	case CategoryNetwork:
		if e.Code == CodeTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case CategoryTool:
		if e.Code == CodeOperationNotSupported {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case CategorySystem:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a compact error envelope to the response writer.
// It attempts to include the trace_id if present in ctx.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	status := HTTPStatus(ce)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	traceID := ""
	if r != nil {
		if span := trace.SpanFromContext(r.Context()); span != nil {
			sc := span.SpanContext()
			if sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
	}
	// Envelope { error: Error, trace_id?: string }
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int32, int64, uint32, uint64, float64, bool:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}
