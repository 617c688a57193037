package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/famledger/internal/model"
)

// newFakeGoogle はトークンエンドポイントとユーザー情報エンドポイントを模したサーバーを起動する。
func newFakeGoogle(t *testing.T, tokenStatus int, tokenBody string, userInfoStatus int, userInfoBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		if r.Form.Get("code") != "valid-code" && tokenStatus == http.StatusOK {
			t.Errorf("unexpected code: %s", r.Form.Get("code"))
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type: %s", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(tokenStatus)
		_, _ = w.Write([]byte(tokenBody))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userInfoStatus)
		_, _ = w.Write([]byte(userInfoBody))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestGoogleProvider(ts *httptest.Server) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/oauth/callback",
		HTTPClient:   ts.Client(),
		Timeout:      5 * time.Second,
		AuthURL:      ts.URL + "/auth",
		TokenURL:     ts.URL + "/token",
		UserInfoURL:  ts.URL + "/userinfo",
	})
}

const validTokenBody = `{"access_token":"test-access-token","token_type":"Bearer","expires_in":3600}`

func TestGoogleGetLoginURL_ContainsParams(t *testing.T) {
	p := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:8080/oauth/callback",
	})

	raw := p.GetLoginURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if !strings.HasPrefix(raw, "https://accounts.google.com/") {
		t.Errorf("unexpected auth endpoint: %s", raw)
	}

	q := u.Query()
	checks := map[string]string{
		"client_id":     "client-id",
		"redirect_uri":  "http://localhost:8080/oauth/callback",
		"response_type": "code",
		"state":         "state-123",
		"scope":         "openid email profile",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestGoogleExchangeCode_Success(t *testing.T) {
	ts := newFakeGoogle(t, http.StatusOK, validTokenBody, http.StatusOK,
		`{"sub":"1234567890","email":"g@x.com","email_verified":true,"name":"Google User"}`)
	p := newTestGoogleProvider(ts)

	info, err := p.ExchangeCode(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}

	want := OAuthUserInfo{
		ProviderUserID: "1234567890",
		Email:          "g@x.com",
		EmailVerified:  true,
		Name:           "Google User",
		Provider:       model.OAuthProviderGoogle,
	}
	if *info != want {
		t.Errorf("info = %+v, want %+v", *info, want)
	}
}

func TestGoogleExchangeCode_TokenErrorHidesBody(t *testing.T) {
	ts := newFakeGoogle(t, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"secret-diagnostic-detail"}`, http.StatusOK, `{}`)
	p := newTestGoogleProvider(ts)

	_, err := p.ExchangeCode(context.Background(), "bad-code")
	if err == nil {
		t.Fatal("expected error for rejected code")
	}
	if strings.Contains(err.Error(), "secret-diagnostic-detail") {
		t.Errorf("provider body must not leak into the error: %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestGoogleExchangeCode_UserInfoError(t *testing.T) {
	ts := newFakeGoogle(t, http.StatusOK, validTokenBody, http.StatusUnauthorized, `{"error":"invalid_token"}`)
	p := newTestGoogleProvider(ts)

	if _, err := p.ExchangeCode(context.Background(), "valid-code"); err == nil {
		t.Fatal("expected error for userinfo failure")
	}
}

func TestGoogleExchangeCode_UnverifiedEmailPassedThrough(t *testing.T) {
	ts := newFakeGoogle(t, http.StatusOK, validTokenBody, http.StatusOK,
		`{"sub":"1","email":"g@x.com","email_verified":false}`)
	p := newTestGoogleProvider(ts)

	info, err := p.ExchangeCode(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if info.EmailVerified {
		t.Error("EmailVerified should be false")
	}
}

func TestGoogleExchangeCode_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	p := NewGoogleOAuthProvider(GoogleOAuthConfig{
		HTTPClient: ts.Client(),
		Timeout:    50 * time.Millisecond,
		TokenURL:   ts.URL + "/token",
	})

	start := time.Now()
	if _, err := p.ExchangeCode(context.Background(), "valid-code"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("exchange took %v, expected to be cut by timeout", elapsed)
	}
}
