package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/trophyman/internal/model"
)

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, 404, model.NewIdentityNotFoundError("abc-123"))

	if rec.Code != 404 {
		t.Errorf("ステータス = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body.Code != model.ErrCodeIdentityNotFound {
		t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeIdentityNotFound)
	}
	if body.Category != "link" {
		t.Errorf("Category = %q, want link", body.Category)
	}
	if body.Action == "" {
		t.Error("Action が空です")
	}
}

func TestWriteInternalServerError(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteInternalServerError(rec)

	if rec.Code != 500 {
		t.Errorf("ステータス = %d, want 500", rec.Code)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want INTERNAL_ERROR", body.Code)
	}
}
