package jwt_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cubicler/cubicler/internal/jwt"
	"github.com/cubicler/cubicler/pkg/models"
)

func TestStaticToken(t *testing.T) {
	src, err := jwt.NewTokenSource(&models.JWTAuthConfig{Token: "static-token"}, nil)
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "static-token" {
		t.Errorf("Token() = %q, want static-token", token)
	}
}

func TestClientCredentials_FetchesAndCaches(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("client_id"); got != "cubicler" {
			t.Errorf("client_id = %q", got)
		}
		fetches++
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":3600}`, fetches)
	}))
	defer srv.Close()

	src, err := jwt.NewTokenSource(&models.JWTAuthConfig{
		TokenURL:         srv.URL,
		ClientID:         "cubicler",
		ClientSecret:     "s3cret",
		RefreshThreshold: 60,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		token, err := src.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() call %d error = %v", i, err)
		}
		if token != "token-1" {
			t.Errorf("Token() call %d = %q, want cached token-1", i, token)
		}
	}
	if fetches != 1 {
		t.Errorf("token endpoint hit %d times, want 1", fetches)
	}
}

func TestClientCredentials_RefreshThresholdExpiresEarly(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		// expires_in 60s with a 60s refresh threshold: immediately stale.
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":60}`, fetches)
	}))
	defer srv.Close()

	src, err := jwt.NewTokenSource(&models.JWTAuthConfig{
		TokenURL:         srv.URL,
		ClientID:         "cubicler",
		RefreshThreshold: 60,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() second call error = %v", err)
	}
	if token != "token-2" {
		t.Errorf("Token() = %q, want refreshed token-2", token)
	}
	if fetches != 2 {
		t.Errorf("token endpoint hit %d times, want 2", fetches)
	}
}

func TestNewTokenSource_Misconfigured(t *testing.T) {
	if _, err := jwt.NewTokenSource(&models.JWTAuthConfig{}, nil); err == nil {
		t.Fatal("NewTokenSource() with empty config: expected error")
	}
	if _, err := jwt.NewTokenSource(nil, nil); err == nil {
		t.Fatal("NewTokenSource(nil): expected error")
	}
}
