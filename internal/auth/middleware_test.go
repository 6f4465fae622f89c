package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runMiddleware(t *testing.T, ts *TokenService, header string) (int64, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got int64
	err := ts.Middleware()(func(c echo.Context) error {
		got = GetUserID(c)
		return nil
	})(c)
	return got, err
}

func TestMiddleware_ValidToken(t *testing.T) {
	ts := NewTokenService("secret")
	token, _ := ts.GenerateAccessToken(7)

	got, err := runMiddleware(t, ts, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("user id = %d, want 7", got)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	ts := NewTokenService("secret")
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		_, err := runMiddleware(t, ts, header)
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
			t.Errorf("header %q: err = %v, want 401", header, err)
		}
	}
}

func TestGetUserID_Unauthenticated(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if got := GetUserID(c); got != 0 {
		t.Errorf("GetUserID = %d, want 0", got)
	}
}
