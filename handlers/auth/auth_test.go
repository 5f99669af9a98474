package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codocs/core"
	"codocs/stores/memory"

	"github.com/golang-jwt/jwt/v5"
)

func initTestSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	InitAuth()
}

func TestJWTRoundTrip(t *testing.T) {
	initTestSecret(t)

	user := &core.User{ID: "user-1", Email: "a@example.com"}
	token, err := CreateJWT(user)
	if err != nil {
		t.Fatalf("CreateJWT() error: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT() error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "a@example.com" {
		t.Errorf("Email = %q, want a@example.com", claims.Email)
	}
}

func TestParseJWTExpired(t *testing.T) {
	initTestSecret(t)

	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	_, err = ParseJWT(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseJWT() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseJWTBadSignature(t *testing.T) {
	initTestSecret(t)

	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	_, err = ParseJWT(token)
	if err == nil {
		t.Error("ParseJWT() should reject a token signed with the wrong secret")
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Error("bad signature must not be reported as expiry")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	initTestSecret(t)
	store := memory.NewStore()

	register := HandleRegister(store)
	login := HandleLogin(store)

	body := `{"email":"a@example.com","password":"hunter2"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body)
	}

	// Duplicate registration is a conflict.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec = httptest.NewRecorder()
	register(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want %d", rec.Code, http.StatusConflict)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec = httptest.NewRecorder()
	login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	claims, err := ParseJWT(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Email != "a@example.com" {
		t.Errorf("token email = %q, want a@example.com", claims.Email)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	initTestSecret(t)
	store := memory.NewStore()

	register := HandleRegister(store)
	login := HandleLogin(store)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"a@example.com","password":"hunter2"}`))
	register(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	login(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("login with wrong password status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	initTestSecret(t)
	store := memory.NewStore()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ghost@example.com","password":"x"}`))
	rec := httptest.NewRecorder()
	HandleLogin(store)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("login for unknown user status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	initTestSecret(t)
	store := memory.NewStore()

	for _, body := range []string{`{}`, `{"email":"a@example.com"}`, `{"password":"x"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		HandleRegister(store)(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("register %q status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}
