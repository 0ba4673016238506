package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kozaktomas/pixpursuit/internal/auth"
	"github.com/kozaktomas/pixpursuit/internal/database/mock"
)

type captureMailer struct {
	link string
}

func (m *captureMailer) SendVerification(_ context.Context, _, _, link string) error {
	m.link = link
	return nil
}

func newAuthHandler(mailer auth.Mailer) (*AuthHandler, *mock.Catalog) {
	catalog := mock.NewCatalog()
	service := auth.NewService(catalog, auth.NewTokens("test-secret"), mailer, "https://pix.example.com")
	return NewAuthHandler(service), catalog
}

func TestAuthHandler_RegisterVerifyLogin(t *testing.T) {
	mailer := &captureMailer{}
	handler, _ := newAuthHandler(mailer)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	}))
	assertStatusCode(t, recorder, http.StatusCreated)

	recorder = httptest.NewRecorder()
	handler.Token(recorder, jsonRequest(t, http.MethodPost, "/api/v1/token", `{"username": "alice", "password": "secret123"}`))
	assertStatusCode(t, recorder, http.StatusForbidden)

	link, err := url.Parse(mailer.link)
	if err != nil {
		t.Fatalf("bad verification link %q: %v", mailer.link, err)
	}
	recorder = httptest.NewRecorder()
	handler.VerifyEmail(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/verify-email?"+link.RawQuery, nil))
	assertStatusCode(t, recorder, http.StatusOK)

	form := url.Values{"username": {"alice"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder = httptest.NewRecorder()
	handler.Token(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var pair auth.TokenPair
	parseJSONResponse(t, recorder, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
		t.Fatalf("unexpected token pair %+v", pair)
	}

	recorder = httptest.NewRecorder()
	handler.Refresh(recorder, jsonRequest(t, http.MethodPost, "/api/v1/refresh", map[string]string{"refresh_token": pair.RefreshToken}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Refresh(recorder, jsonRequest(t, http.MethodPost, "/api/v1/refresh", map[string]string{"refresh_token": pair.AccessToken}))
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	handler, _ := newAuthHandler(nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"ok", `{"username": "bob", "email": "bob@example.com", "password": "hunter22"}`, http.StatusCreated},
		{"duplicate", `{"username": "bob", "email": "other@example.com", "password": "hunter22"}`, http.StatusConflict},
		{"bad email", `{"username": "carol", "email": "nope", "password": "hunter22"}`, http.StatusBadRequest},
		{"short password", `{"username": "carol", "email": "c@example.com", "password": "x"}`, http.StatusBadRequest},
		{"bad username", `{"username": "c d", "email": "c@example.com", "password": "hunter22"}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", tc.body))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}

func TestAuthHandler_Token_Failures(t *testing.T) {
	handler, _ := newAuthHandler(nil)
	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", `{"username": "dave", "email": "d@example.com", "password": "hunter22"}`))
	assertStatusCode(t, recorder, http.StatusCreated)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"wrong password", `{"username": "dave", "password": "wrong"}`, http.StatusForbidden},
		{"unknown user", `{"username": "eve", "password": "hunter22"}`, http.StatusForbidden},
		{"missing password", `{"username": "dave"}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Token(recorder, jsonRequest(t, http.MethodPost, "/api/v1/token", tc.body))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}

func TestAuthHandler_VerifyEmail_Errors(t *testing.T) {
	handler, _ := newAuthHandler(nil)

	recorder := httptest.NewRecorder()
	handler.VerifyEmail(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/verify-email", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "token is required")

	recorder = httptest.NewRecorder()
	handler.VerifyEmail(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/verify-email?token=garbage", nil))
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}
