package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

func TestSessionMiddleware_WithValidCookie(t *testing.T) {
	m := NewSessionMiddleware("test-secret")

	want := Session{ClientID: 42, OrganizationID: "org-1", Channel: model.ChannelPOS}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, ok := GetSessionFromContext(r.Context())
		if !ok {
			t.Fatalf("session not in context")
		}
		if s != want {
			t.Fatalf("session from context = %+v, want %+v", s, want)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetSessionCookie(w, want)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetSessionCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestSessionMiddleware_OrgIDWithColon(t *testing.T) {
	m := NewSessionMiddleware("test-secret")

	want := Session{ClientID: 42, OrganizationID: "org:acme:eu", Channel: model.ChannelWeb}

	w := httptest.NewRecorder()
	m.SetSessionCookie(w, want)
	cookie := w.Result().Cookies()[0]

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, ok := GetSessionFromContext(r.Context())
		if !ok {
			t.Fatalf("session not in context")
		}
		if s != want {
			t.Fatalf("session from context = %+v, want %+v", s, want)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("valid session with colons in organization id was rejected")
	}
}

func TestSessionMiddleware_WithoutCookie(t *testing.T) {
	m := NewSessionMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_TamperedCookie(t *testing.T) {
	m := NewSessionMiddleware("test-secret")

	w := httptest.NewRecorder()
	m.SetSessionCookie(w, Session{ClientID: 42, OrganizationID: "org-1", Channel: model.ChannelWeb})
	cookie := w.Result().Cookies()[0]

	// Подмена организации в подписанном значении должна ломать подпись.
	cookie.Value = strings.Replace(cookie.Value, "org-1", "org-2", 1)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for tampered cookie")
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}
