// Package middleware содержит HTTP middleware для сервиса голосования.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const referenceKey contextKey = "paymentRef"

const (
	sessionCookieName = "vote_session"
	sessionCookieTTL  = 24 * time.Hour
)

// SessionAuth проверяет подписанный cookie сессии голосования. Cookie связывает
// устройство с референсом платежа: распоряжаться оплаченным бюджетом может
// только тот, кто открыл сессию.
type SessionAuth struct {
	secretKey []byte
}

// NewSessionAuth создаёт новый экземпляр SessionAuth с указанным секретным ключом.
func NewSessionAuth(secret string) *SessionAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionAuth{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет референс платежа в контекст запроса.
func (a *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		reference, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), referenceKey, reference)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает cookie сессии для указанного референса платежа.
func (a *SessionAuth) SetSessionCookie(w http.ResponseWriter, reference string) {
	value := a.sign(reference)

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearSessionCookie удаляет cookie сессии при явном сбросе.
func (a *SessionAuth) ClearSessionCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *SessionAuth) sign(reference string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(reference))
	signature := mac.Sum(nil)
	return reference + "." + hex.EncodeToString(signature)
}

func (a *SessionAuth) parseCookie(cookieValue string) (string, bool) {
	// Референс может содержать точки, подпись — нет: делим по последней.
	idx := strings.LastIndex(cookieValue, ".")
	if idx <= 0 {
		return "", false
	}

	reference := cookieValue[:idx]
	signature := cookieValue[idx+1:]

	expected := a.sign(reference)
	expIdx := strings.LastIndex(expected, ".")
	if !hmac.Equal([]byte(signature), []byte(expected[expIdx+1:])) {
		return "", false
	}

	return reference, true
}

// GetReferenceFromContext извлекает референс платежа из контекста запроса.
func GetReferenceFromContext(ctx context.Context) (string, bool) {
	reference, ok := ctx.Value(referenceKey).(string)
	return reference, ok
}
