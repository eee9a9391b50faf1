package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/docpad/internal/middleware"
	"github.com/hitoshi/docpad/internal/model"
)

// --- GET /users/me ---

func TestUserHandler_Me_ReturnsUserJSON(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockUserService{
		meFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, DisplayName: "Taro", Email: "taro@example.com", CreatedAt: createdAt}, nil
		},
	}
	h := NewUserHandler(svc, "", false)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/users/me", nil), "user-123")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body userResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.ID != "user-123" || body.Email != "taro@example.com" || body.DisplayName != "Taro" {
		t.Errorf("body = %+v", body)
	}
	if !body.CreatedAt.Equal(createdAt) {
		t.Errorf("created_at = %v, want %v", body.CreatedAt, createdAt)
	}
}

func TestUserHandler_Me_UserNotFound_Returns404(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, "", false)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/users/me", nil), "user-gone")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUserHandler_Me_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, "", false)

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/users/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- DELETE /users/me ---

func TestUserHandler_Withdraw_Success(t *testing.T) {
	withdrawCalled := false
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			withdrawCalled = true
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			return nil
		},
	}
	h := NewUserHandler(svc, "example.com", true)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/users/me", nil), "user-123")
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !withdrawCalled {
		t.Error("expected Withdraw to be called")
	}

	c := findCookie(resp, middleware.SessionCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Fatalf("session cookie should be cleared, got %+v", c)
	}
	if !c.Secure || c.Domain != "example.com" {
		t.Errorf("cookie attributes = %+v", c)
	}
}

func TestUserHandler_Withdraw_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, "", false)

	w := httptest.NewRecorder()
	h.Withdraw(w, httptest.NewRequest(http.MethodDelete, "/users/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_Withdraw_ServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return errors.New("database error")
		},
	}
	h := NewUserHandler(svc, "", false)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/users/me", nil), "user-123")
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("session cookie should not be touched on failure")
	}
}
