package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionAuth_WithValidCookie(t *testing.T) {
	m := NewSessionAuth("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		reference, ok := GetReferenceFromContext(r.Context())
		if !ok {
			t.Fatalf("payment reference not in context")
		}
		if reference != "ref-123" {
			t.Fatalf("reference from context = %q, want ref-123", reference)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetSessionCookie(w, "ref-123")
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

func TestSessionAuth_WithoutCookie(t *testing.T) {
	m := NewSessionAuth("test-secret")

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

func TestSessionAuth_TamperedSignature(t *testing.T) {
	m := NewSessionAuth("test-secret")
	other := NewSessionAuth("other-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	other.SetSessionCookie(w, "ref-123")
	forged := w.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(forged)

	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionAuth_ReferenceWithDots(t *testing.T) {
	m := NewSessionAuth("test-secret")

	w := httptest.NewRecorder()
	m.SetSessionCookie(w, "ref.with.dots")
	cookie := w.Result().Cookies()[0]

	reference, ok := m.parseCookie(cookie.Value)
	if !ok {
		t.Fatalf("cookie with dotted reference did not parse")
	}
	if reference != "ref.with.dots" {
		t.Fatalf("reference = %q, want ref.with.dots", reference)
	}
}
