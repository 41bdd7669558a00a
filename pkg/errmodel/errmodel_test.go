package errmodel

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAndFrom(t *testing.T) {
	e := InvalidConfig("base_url is required", map[string]any{"field": "base_url"})
	if e.Category != CategoryValidation || e.Code != CodeInvalidConfig {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
	wrapped := fmt.Errorf("connect rest: %w", e)
	if got := From(wrapped); got != e {
		t.Fatalf("From should unwrap to the compact error")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("route: %w", PermissionDenied("insufficient scope", map[string]any{"status": 403}))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatal("expected permission denied match")
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Fatal("unexpected authentication match")
	}
	if Retryable(err) {
		t.Fatal("permission denied must not be retryable")
	}
	if !Retryable(AuthenticationFailed("token rejected", nil)) {
		t.Fatal("authentication failures are retryable after refresh")
	}
}

func TestTransportClassifiesDeadline(t *testing.T) {
	err := Transport(ConnectionFailed, "dial tcp", map[string]any{"addr": "localhost:25575"}, context.DeadlineExceeded)
	if err.Code != CodeTimeout {
		t.Fatalf("code=%s want timeout", err.Code)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("cause should stay reachable")
	}
	err = Transport(ExecutionFailed, "send request", nil, errors.New("connection refused"))
	if err.Code != CodeExecutionFailed {
		t.Fatalf("code=%s want execution_failed", err.Code)
	}
	inner := ProtocolError("body too large", nil)
	if got := Transport(ConnectionFailed, "read", nil, inner); got != inner {
		t.Fatal("compact errors pass through unchanged")
	}
}

func TestWriteHTTP_StatusAndEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	WriteHTTP(rr, req, OperationNotSupported("unknown tool", map[string]any{"tool": "nope"}))
	if rr.Code != 404 {
		t.Fatalf("status=%d want 404", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"category\":\"tool\"") {
		t.Fatalf("body missing category: %s", body)
	}
	if !strings.Contains(body, "\"code\":\"operation_not_supported\"") {
		t.Fatalf("body missing code: %s", body)
	}
}

func TestHTTPStatusTaxonomy(t *testing.T) {
	cases := map[*Error]int{
		AuthenticationFailed("x", nil):  401,
		PermissionDenied("x", nil):      403,
		Timeout("x", nil):               504,
		ConnectionFailed("x", nil):      502,
		InvalidArguments("x", nil):      400,
		InvalidConfig("x", nil):         500,
		ExecutionFailed("x", nil):       502,
		ProtocolError("x", nil):         502,
		OperationNotSupported("x", nil): 404,
	}
	for e, want := range cases {
		if got := HTTPStatus(e); got != want {
			t.Errorf("%s: status=%d want %d", e.Code, got, want)
		}
	}
}
