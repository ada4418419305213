package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voralbrecht/trtimeline/internal/config"
	"github.com/voralbrecht/trtimeline/internal/tokens"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIBaseURL:  srv.URL,
		UserAgent:   "test-agent",
		HTTPTimeout: 5 * time.Second,
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestBeginLoginReturnsProcessID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/web/login" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("body not json: %v", err)
		}
		if req["phoneNumber"] != "+491701234567" || req["pin"] != "1234" {
			t.Errorf("credentials not forwarded: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"processId":"proc-1","countdownInSeconds":120}`)
	})

	pid, err := c.BeginLogin(context.Background(), "+491701234567", "1234")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if pid != "proc-1" {
		t.Fatalf("processId = %q", pid)
	}
}

func TestBeginLoginBadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"errorCode":"AUTHENTICATION_ERROR"}]}`, http.StatusUnauthorized)
	})

	_, err := c.BeginLogin(context.Background(), "+49170", "0000")
	if KindOf(err) != KindInvalidCredentials {
		t.Fatalf("kind = %v, want invalid credentials (%v)", KindOf(err), err)
	}
}

func TestBeginLoginRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"errorCode":"TOO_MANY_REQUESTS"}]}`, http.StatusTooManyRequests)
	})

	_, err := c.BeginLogin(context.Background(), "+49170", "1234")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %v, want rate limited (%v)", KindOf(err), err)
	}
}

func TestCompleteLoginExtractsCookies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/web/login/proc-1/5678" {
			t.Errorf("path = %s", r.URL.Path)
		}
		http.SetCookie(w, &http.Cookie{Name: "tr_session", Value: "sess-1", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "tr_refresh", Value: "ref-1", Path: "/"})
		io.WriteString(w, `{}`)
	})

	pair, err := c.CompleteLogin(context.Background(), "proc-1", "5678")
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if pair.Session != "sess-1" || pair.Refresh != "ref-1" {
		t.Fatalf("pair = %+v", pair)
	}
	if c.SessionToken() != "sess-1" {
		t.Fatalf("session token = %q", c.SessionToken())
	}
}

func TestCompleteLoginWrongOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"errorCode":"VALIDATION_CODE_INVALID"}]}`, http.StatusBadRequest)
	})

	_, err := c.CompleteLogin(context.Background(), "proc-1", "0000")
	if KindOf(err) != KindOTPInvalid {
		t.Fatalf("kind = %v, want otp invalid (%v)", KindOf(err), err)
	}
}

func TestCompleteLoginExpiredOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"errorCode":"VALIDATION_CODE_EXPIRED"}]}`, http.StatusBadRequest)
	})

	_, err := c.CompleteLogin(context.Background(), "proc-1", "5678")
	if KindOf(err) != KindOTPExpired {
		t.Fatalf("kind = %v, want otp expired (%v)", KindOf(err), err)
	}
}

func TestCompleteLoginWithoutSessionCookieFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})

	if _, err := c.CompleteLogin(context.Background(), "proc-1", "5678"); err == nil {
		t.Fatal("expected error when no session cookie arrives")
	}
}

func TestRefreshCarriesStoredTokensAndRotates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/web/session" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		cookie := r.Header.Get("Cookie")
		if !strings.Contains(cookie, "tr_refresh=ref-old") {
			t.Errorf("refresh token not sent: %q", cookie)
		}
		// Rotate the session only; the refresh token stays.
		http.SetCookie(w, &http.Cookie{Name: "tr_session", Value: "sess-new", Path: "/"})
		io.WriteString(w, `{}`)
	})

	next, err := c.Refresh(context.Background(), tokens.Pair{Session: "sess-old", Refresh: "ref-old"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.Session != "sess-new" {
		t.Fatalf("session = %q, want sess-new", next.Session)
	}
	if next.Refresh != "ref-old" {
		t.Fatalf("refresh = %q, want unrotated ref-old", next.Refresh)
	}
}

func TestRefreshExpired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{}`, http.StatusUnauthorized)
	})

	_, err := c.Refresh(context.Background(), tokens.Pair{Session: "s", Refresh: "r"})
	if KindOf(err) != KindRefreshExpired {
		t.Fatalf("kind = %v, want refresh expired (%v)", KindOf(err), err)
	}
}

func TestRefreshWithoutTokenFailsFast(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a refresh token")
	})

	_, err := c.Refresh(context.Background(), tokens.Pair{})
	if KindOf(err) != KindRefreshExpired {
		t.Fatalf("kind = %v, want refresh expired (%v)", KindOf(err), err)
	}
}
