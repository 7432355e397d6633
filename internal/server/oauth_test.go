package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOAuthHandlerDeliversCode(t *testing.T) {
	handler := NewOAuthHandler("state-123")

	req := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=auth-code-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	select {
	case result := <-handler.Result():
		if result.Error() != nil {
			t.Fatalf("unexpected error: %v", result.Error())
		}
		if result.Code != "auth-code-1" {
			t.Errorf("Code = %q, want auth-code-1", result.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestOAuthHandlerRejectsStateMismatch(t *testing.T) {
	handler := NewOAuthHandler("expected-state")

	req := httptest.NewRequest(http.MethodGet, "/callback?state=wrong&code=auth-code-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	result := <-handler.Result()
	if result.Error() == nil {
		t.Error("expected a state mismatch error")
	}
}

func TestOAuthHandlerRejectsDeniedAuthorization(t *testing.T) {
	handler := NewOAuthHandler("state-123")

	req := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&error=access_denied&error_description=User+declined", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	result := <-handler.Result()
	if result.Error() == nil {
		t.Error("expected an authorization error")
	}
}

func TestOAuthHandlerProcessesOnlyOneCallback(t *testing.T) {
	handler := NewOAuthHandler("state-123")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=auth-code-1", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first callback status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=auth-code-2", nil))
	if second.Code != http.StatusBadRequest {
		t.Errorf("replayed callback status = %d, want 400", second.Code)
	}

	result := <-handler.Result()
	if result.Code != "auth-code-1" {
		t.Errorf("Code = %q, want the first callback's code", result.Code)
	}
}
