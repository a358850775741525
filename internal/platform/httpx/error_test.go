package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orderable/products-api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	err := NewError("bad_request", "line one\nline two", http.StatusBadRequest).
		WithDetails(map[string]any{"product_type_validation_error": true, "status": 999})
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "line one line two" {
		t.Fatalf("expected newlines stripped, got %q", body["message"])
	}
	if body["status"] != float64(400) {
		t.Fatalf("details must not override envelope status, got %v", body["status"])
	}
	if body["trace_id"] != "abc123" || body["product_type_validation_error"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("request_id should be omitted when unknown")
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if got := NewError("x", "y", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}
